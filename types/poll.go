package types

import (
	"fmt"
	"slices"
	"time"
)

// PollStatus is the lifecycle state of a poll. Transitions are linear:
// draft -> scheduled -> active -> ended -> archived. The node only accepts
// ballots while the poll is active and inside its time window.
type PollStatus string

const (
	PollStatusDraft     PollStatus = "draft"
	PollStatusScheduled PollStatus = "scheduled"
	PollStatusActive    PollStatus = "active"
	PollStatusEnded     PollStatus = "ended"
	PollStatusArchived  PollStatus = "archived"
)

// PollKind classifies what kind of consultation a poll is.
type PollKind string

const (
	PollKindReferendum PollKind = "referendum"
	PollKindElection   PollKind = "election"
	PollKindSurvey     PollKind = "survey"
)

// DefaultKAnonymity is the per-poll k-anonymity floor applied when the admin
// plane does not set one.
const DefaultKAnonymity = 30

// Gender values recognized in audience rules and credentials. GenderAll is
// only valid in audience rules and matches any credential.
const (
	GenderMale   = "M"
	GenderFemale = "F"
	GenderAll    = "all"
)

// AgeBuckets enumerates the recognized credential age buckets, ordered.
var AgeBuckets = []string{"18-24", "25-34", "35-44", "45-54", "55-64", "65+"}

// AgeBucketLowerBound returns the lower bound in years of an age bucket, or
// an error for an unrecognized bucket. The lower bound is the deterministic
// age used for audience-rule evaluation.
func AgeBucketLowerBound(bucket string) (int, error) {
	switch bucket {
	case "18-24":
		return 18, nil
	case "25-34":
		return 25, nil
	case "35-44":
		return 35, nil
	case "45-54":
		return 45, nil
	case "55-64":
		return 55, nil
	case "65+":
		return 65, nil
	default:
		return 0, fmt.Errorf("unrecognized age bucket: %q", bucket)
	}
}

// AudienceRules restrict who may vote in a poll. Zero values mean the rule
// is not applied. Regions are matched by set membership of the credential's
// region code.
type AudienceRules struct {
	MinAge  int      `json:"minAge,omitempty" cbor:"1,keyasint,omitempty"`
	MaxAge  int      `json:"maxAge,omitempty" cbor:"2,keyasint,omitempty"`
	Gender  string   `json:"gender,omitempty" cbor:"3,keyasint,omitempty"`
	Regions []string `json:"regions,omitempty" cbor:"4,keyasint,omitempty"`
}

// PollOption is one of the choices of a poll.
type PollOption struct {
	ID    string `json:"id" cbor:"1,keyasint"`
	Text  string `json:"text" cbor:"2,keyasint"`
	Order int    `json:"order" cbor:"3,keyasint"`
}

// Poll is the read model of a consultation. Polls are created and mutated by
// the admin plane; this node only reads them.
type Poll struct {
	ID            string        `json:"id" cbor:"1,keyasint"`
	Title         string        `json:"title" cbor:"2,keyasint"`
	Kind          PollKind      `json:"kind" cbor:"3,keyasint"`
	Status        PollStatus    `json:"status" cbor:"4,keyasint"`
	Options       []PollOption  `json:"options" cbor:"5,keyasint"`
	Audience      AudienceRules `json:"audience" cbor:"6,keyasint"`
	MinKAnonymity int           `json:"minKAnonymity" cbor:"7,keyasint"`
	StartAt       *time.Time    `json:"startAt,omitempty" cbor:"8,keyasint,omitempty"`
	EndAt         *time.Time    `json:"endAt,omitempty" cbor:"9,keyasint,omitempty"`
	CreatedAt     time.Time     `json:"createdAt" cbor:"10,keyasint"`
}

// K returns the poll's k-anonymity floor, falling back to the default.
func (p *Poll) K() int {
	if p.MinKAnonymity <= 0 {
		return DefaultKAnonymity
	}
	return p.MinKAnonymity
}

// HasOption reports whether the option id belongs to this poll.
func (p *Poll) HasOption(optionID string) bool {
	return slices.ContainsFunc(p.Options, func(o PollOption) bool {
		return o.ID == optionID
	})
}

// AcceptsVotesAt reports whether the poll accepts ballots at the given time:
// status must be active and the time inside [StartAt, EndAt] when defined.
func (p *Poll) AcceptsVotesAt(now time.Time) bool {
	if p.Status != PollStatusActive {
		return false
	}
	if p.StartAt != nil && now.Before(*p.StartAt) {
		return false
	}
	if p.EndAt != nil && now.After(*p.EndAt) {
		return false
	}
	return true
}
