package domain

// TokenRecord is the view of one minted token that duplicate resolution
// operates on. The engine only emits the timestamp fields; resolution runs
// off-chain in the indexer, which uses this helper.
type TokenRecord struct {
	ID            string
	TSATimestamp  *uint64
	TSAPubkeyHash string
	BlockTime     uint64
	Burned        bool
}

// ResolveDuplicate picks the rightful token among several claiming the
// same content hash: burned tokens are excluded, the earliest effective
// creation time wins, and block time breaks ties. A token's effective
// creation time is its TSA timestamp when the TSA key is trusted,
// otherwise its block time. An empty trusted list trusts every TSA.
func ResolveDuplicate(tokens []TokenRecord, trustedTSAKeys []string) *TokenRecord {
	var winner *TokenRecord
	var winnerTime uint64
	for i := range tokens {
		t := &tokens[i]
		if t.Burned {
			continue
		}
		created := effectiveCreationTime(t, trustedTSAKeys)
		if winner == nil || created < winnerTime ||
			(created == winnerTime && t.BlockTime < winner.BlockTime) {
			winner = t
			winnerTime = created
		}
	}
	return winner
}

func effectiveCreationTime(t *TokenRecord, trustedTSAKeys []string) uint64 {
	if t.TSATimestamp != nil {
		trusted := len(trustedTSAKeys) == 0
		for _, k := range trustedTSAKeys {
			if t.TSAPubkeyHash != "" && k == t.TSAPubkeyHash {
				trusted = true
				break
			}
		}
		if trusted {
			return *t.TSATimestamp
		}
	}
	return t.BlockTime
}
