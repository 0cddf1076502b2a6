package service

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/wallet-tracker/internal/types"
)

// GroupByBalance partitions the latest state by exact balance equality and
// returns the partitions with more than one member, largest first, ties
// broken by the larger balance. Members are sorted by address.
func GroupByBalance(latest []types.WalletSnapshot) []types.BalanceGroup {
	// decimal.String is canonical (no trailing zeros), so 10 and 10.00 share a key
	partitions := make(map[string][]types.WalletSnapshot)
	for _, snapshot := range latest {
		key := snapshot.Balance.String()
		partitions[key] = append(partitions[key], snapshot)
	}

	groups := make([]types.BalanceGroup, 0)
	for _, members := range partitions {
		if len(members) < 2 {
			continue
		}

		addresses := make([]string, 0, len(members))
		for _, member := range members {
			addresses = append(addresses, member.Address)
		}
		sort.Strings(addresses)

		value := members[0].Balance
		groups = append(groups, types.BalanceGroup{
			BalanceValue:      value,
			MemberAddresses:   addresses,
			MemberCount:       len(addresses),
			TotalGroupBalance: value.Mul(decimal.NewFromInt(int64(len(addresses)))),
		})
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].MemberCount != groups[j].MemberCount {
			return groups[i].MemberCount > groups[j].MemberCount
		}
		return groups[i].BalanceValue.GreaterThan(groups[j].BalanceValue)
	})

	return groups
}

// DuplicateBalanceWallets flattens the groups into their member snapshots,
// in group order then address order.
func DuplicateBalanceWallets(latest []types.WalletSnapshot) []types.WalletSnapshot {
	byAddress := make(map[string]types.WalletSnapshot, len(latest))
	for _, snapshot := range latest {
		byAddress[snapshot.Address] = snapshot
	}

	wallets := make([]types.WalletSnapshot, 0)
	for _, group := range GroupByBalance(latest) {
		for _, address := range group.MemberAddresses {
			wallets = append(wallets, byAddress[address])
		}
	}
	return wallets
}
