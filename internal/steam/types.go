package steam

// MatchRecord is one completed match reported by the Steam Web API. A match
// is identified by an opaque match ID and by a globally ordered sequence
// number; the sequence number is what the streaming cursor tracks.
type MatchRecord struct {
	MatchID     uint64      `json:"match_id"`
	MatchSeqNum uint64      `json:"match_seq_num"`
	Players     []PlayerRef `json:"players"`
}

// PlayerRef is one participant slot in a match. AccountID is nil for bot
// players, which have no Steam account.
type PlayerRef struct {
	AccountID *uint32 `json:"account_id,omitempty"`
}

// matchHistoryResponse mirrors the JSON shape shared by GetMatchHistory and
// GetMatchHistoryBySequenceNum. Matches is a pointer so that a missing
// "matches" key ("no more results for now") is distinguishable from an
// empty list.
type matchHistoryResponse struct {
	Result *struct {
		Status  int            `json:"status"`
		Matches *[]MatchRecord `json:"matches"`
	} `json:"result"`
}

// playerSummariesResponse mirrors the GetPlayerSummaries JSON shape.
type playerSummariesResponse struct {
	Response struct {
		Players []struct {
			PersonaName string `json:"personaname"`
		} `json:"players"`
	} `json:"response"`
}
