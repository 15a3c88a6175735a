package types

import (
	"time"
)

// Demographics is the bucketed demographic snapshot copied from a voter
// credential into a vote row. These four fields are the only voter-derived
// data a vote may carry; subject ids, device ids, IPs or document numbers
// must never appear here.
type Demographics struct {
	AgeBucket   string `json:"age_bucket" cbor:"1,keyasint"`
	Gender      string `json:"gender" cbor:"2,keyasint"`
	Region      string `json:"region" cbor:"3,keyasint"`
	Citizenship string `json:"citizenship,omitempty" cbor:"4,keyasint,omitempty"`
}

// Vote is an accepted ballot. It carries no reference to the voter and no
// foreign key to the nullifier set; the stored leaf hash is the only value
// derived from the nullifier, and it is one-way.
type Vote struct {
	VoteID       string       `json:"voteId" cbor:"1,keyasint"`
	PollID       string       `json:"pollId" cbor:"2,keyasint"`
	OptionID     string       `json:"optionId" cbor:"3,keyasint"`
	Demographics Demographics `json:"demographics" cbor:"4,keyasint"`
	BucketTS     time.Time    `json:"bucketTs" cbor:"5,keyasint"`
	Seq          uint64       `json:"seq" cbor:"6,keyasint"`
	Leaf         HexBytes     `json:"leaf" cbor:"7,keyasint"`
}

// PollRoot is the per-poll Merkle commitment over all accepted votes. Root
// and LeafCount only ever advance; Frontier is the incremental tree state
// (one pending subtree root per set bit of LeafCount).
type PollRoot struct {
	PollID    string     `json:"pollId" cbor:"1,keyasint"`
	Root      HexBytes   `json:"root" cbor:"2,keyasint"`
	LeafCount uint64     `json:"leafCount" cbor:"3,keyasint"`
	Frontier  []HexBytes `json:"frontier" cbor:"4,keyasint"`
	UpdatedAt time.Time  `json:"updatedAt" cbor:"5,keyasint"`
}

// Anchor records a poll root committed to the external ledger. Append-only.
type Anchor struct {
	PollID      string    `json:"pollId" cbor:"1,keyasint"`
	Root        HexBytes  `json:"root" cbor:"2,keyasint"`
	TxID        string    `json:"txId" cbor:"3,keyasint"`
	SubmittedAt time.Time `json:"submittedAt" cbor:"4,keyasint"`
}
