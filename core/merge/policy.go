package merge

import (
	"fmt"
	"strings"
)

// Policy decides what happens when an input registers a resource under an id
// the output already uses for a different resource.
type Policy string

const (
	// Remap registers the incoming resource under a fresh id and rewrites the
	// input's copied content to use it.
	Remap Policy = "remap"

	// FirstWins keeps the resource that claimed the id first. Content copied
	// from later inputs keeps the colliding id and so resolves to the first
	// resource.
	FirstWins Policy = "first-wins"
)

// DefaultPolicy is used when none is configured.
const DefaultPolicy = Remap

// ParsePolicy parses a policy name. The empty string yields DefaultPolicy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultPolicy, nil
	case Remap:
		return Remap, nil
	case FirstWins, "first_wins", "firstwins":
		return FirstWins, nil
	}
	return "", fmt.Errorf("unknown collision policy %q (want %q or %q)", s, Remap, FirstWins)
}

func (p Policy) String() string { return string(p) }
