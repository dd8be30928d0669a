package media

import "fmt"

// FetchDecision records whether an item is downloaded now and why.
type FetchDecision struct {
	ShouldFetch bool
	Reason      string
}

// EvaluateFetch applies the download policy to one classified item.
//
// Only videos are evaluated today: anything above thresholdBytes is "large" and
// fetched. Other kinds are left undecided on purpose so new rules can slot in here.
func EvaluateFetch(item Item, thresholdBytes int64) FetchDecision {
	if item.Kind != KindVideo {
		return FetchDecision{
			ShouldFetch: false,
			Reason:      fmt.Sprintf("kind %s pending definition", item.Kind),
		}
	}

	if item.SizeBytes > thresholdBytes {
		return FetchDecision{
			ShouldFetch: true,
			Reason:      fmt.Sprintf("large video detected: %s", SizeMB(item.SizeBytes)),
		}
	}

	return FetchDecision{
		ShouldFetch: false,
		Reason:      fmt.Sprintf("small video: %s", SizeMB(item.SizeBytes)),
	}
}
