package webhook

import "github.com/noexlabs/rulesengine/pkg/topicmatch"

// Matcher routes an emitted topic to the destinations configured to
// receive it, adapted from the teacher's RuleMatcher: service-glob
// matching over "namespace/name" becomes topic-glob matching over
// dotted event topics, reusing pkg/topicmatch (the engine's own glob
// matcher) instead of the teacher's path.Match.
type Matcher struct {
	destinations []Destination
}

// NewMatcher builds a Matcher over the configured destinations.
func NewMatcher(destinations []Destination) *Matcher {
	return &Matcher{destinations: destinations}
}

// Destinations returns the configured destinations.
func (m *Matcher) Destinations() []Destination {
	return m.destinations
}

// Match returns the deduplicated destination names whose Topics glob
// matches topic.
func (m *Matcher) Match(topic string) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, dest := range m.destinations {
		for _, pattern := range dest.Topics {
			if topicmatch.Get(pattern, '.').Match(topic) {
				if _, ok := seen[dest.Name]; !ok {
					seen[dest.Name] = struct{}{}
					result = append(result, dest.Name)
				}
				break
			}
		}
	}
	return result
}
