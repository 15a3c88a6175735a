package engine

import (
	"fmt"
	"slices"

	"github.com/civicledger/referendum-node/types"
)

// checkEligibility evaluates a poll's audience rules against the
// credential's demographic buckets. Age is the bucket's lower bound, so a
// 25-34 credential satisfies minAge 25 but not minAge 26; the bound is
// deterministic and never consults a birth date. Gender "all" in the rules
// matches any credential; region matching is set membership. Returns
// types.ErrIneligible wrapped with the failing rule.
func checkEligibility(poll *types.Poll, demo types.Demographics) error {
	rules := poll.Audience
	if rules.MinAge > 0 || rules.MaxAge > 0 {
		age, err := types.AgeBucketLowerBound(demo.AgeBucket)
		if err != nil {
			return fmt.Errorf("%w: %v", types.ErrIneligible, err)
		}
		if rules.MinAge > 0 && age < rules.MinAge {
			return fmt.Errorf("%w: below minimum age", types.ErrIneligible)
		}
		if rules.MaxAge > 0 && age > rules.MaxAge {
			return fmt.Errorf("%w: above maximum age", types.ErrIneligible)
		}
	}
	if rules.Gender != "" && rules.Gender != types.GenderAll && rules.Gender != demo.Gender {
		return fmt.Errorf("%w: gender rule mismatch", types.ErrIneligible)
	}
	if len(rules.Regions) > 0 && !slices.Contains(rules.Regions, demo.Region) {
		return fmt.Errorf("%w: region not in poll audience", types.ErrIneligible)
	}
	return nil
}
