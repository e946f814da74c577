// Package bootstrap builds the initial per-address balance map from a
// UTXO dump file.
package bootstrap

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/DemoYeti/bitcoin-canister/internal/log"
	"github.com/DemoYeti/bitcoin-canister/internal/storage"
	"github.com/DemoYeti/bitcoin-canister/pkg/types"
)

// Dump file column indexes: one record per line, comma separated.
const (
	fieldAmount  = 3
	fieldAddress = 5
)

// shuffleSeed is fixed so the written map is reproducible run to run.
const shuffleSeed = 1

// Entry is one address balance.
type Entry struct {
	Address types.Address
	Amount  uint64
}

// BuildBalances reads a UTXO dump and aggregates the satoshi amounts per
// address. Rows with unparseable addresses are skipped and zero-valued
// rows dropped. The result is deterministically shuffled so that bulk
// insertion into an ordered map does not degenerate.
func BuildBalances(r io.Reader, network types.Network) ([]Entry, error) {
	balances := make(map[types.Address]uint64)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if line%100_000 == 0 {
			log.Bootstrap.Info().Int("lines", line).Msg("processing utxo dump")
		}

		parts := strings.Split(scanner.Text(), ",")
		if len(parts) <= fieldAddress {
			return nil, fmt.Errorf("line %d: expected at least %d fields, got %d", line, fieldAddress+1, len(parts))
		}

		amount, err := strconv.ParseUint(parts[fieldAmount], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad amount: %w", line, err)
		}
		if amount == 0 {
			continue
		}

		addr, err := types.ParseAddress(parts[fieldAddress], network)
		if err != nil {
			continue
		}
		balances[addr] += amount
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(balances))
	for addr, amount := range balances {
		entries = append(entries, Entry{Address: addr, Amount: amount})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Address < entries[j].Address
	})

	var seed [32]byte
	binary.LittleEndian.PutUint64(seed[:8], shuffleSeed)
	rng := rand.New(rand.NewChaCha8(seed))
	rng.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})

	return entries, nil
}

// Key prefix for the balances map.
var prefixBalance = []byte("b/") // b/<len(1)><address> -> amount(8 LE)

func balanceKey(addr types.Address) []byte {
	key := make([]byte, 0, len(prefixBalance)+1+len(addr))
	key = append(key, prefixBalance...)
	key = append(key, byte(len(addr)))
	key = append(key, addr...)
	return key
}

// WriteBalances persists the entries in their given (shuffled) order.
func WriteBalances(db storage.DB, entries []Entry) error {
	for _, e := range entries {
		var amount [8]byte
		binary.LittleEndian.PutUint64(amount[:], e.Amount)
		if err := db.Put(balanceKey(e.Address), amount[:]); err != nil {
			return fmt.Errorf("write balance for %s: %w", e.Address, err)
		}
	}
	return nil
}

// ReadBalance looks up the stored balance of an address.
func ReadBalance(db storage.DB, addr types.Address) (uint64, bool, error) {
	raw, err := db.Get(balanceKey(addr))
	if err != nil {
		return 0, false, nil
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("corrupt balance for %s: got %d bytes", addr, len(raw))
	}
	return binary.LittleEndian.Uint64(raw), true, nil
}
