// Package reaction implements like/dislike toggles and the point accounting
// they drive. It uses the generic ledger vocabulary with reaction-specific
// target types, transition rules and policies.
package reaction

import (
	"fmt"

	"github.com/nuxni/reaction-engine/generic"
)

// =============================================================================
// TARGET TYPES
// =============================================================================

// Target is the concrete target type for the social domain.
// Implements generic.TargetType.
type Target string

func (t Target) TypeID() string     { return string(t) }
func (t Target) TypeDomain() string { return "social" }

var _ generic.TargetType = Target("")

const (
	TargetPost             Target = "post"
	TargetPostComment      Target = "post_comment"
	TargetPostImage        Target = "post_image"
	TargetPostImageComment Target = "post_image_comment"
	TargetLesson           Target = "lesson"
	TargetLessonComment    Target = "lesson_comment"
	TargetShare            Target = "share"
)

// AllTargets lists the built-in target types.
var AllTargets = []Target{
	TargetPost,
	TargetPostComment,
	TargetPostImage,
	TargetPostImageComment,
	TargetLesson,
	TargetLessonComment,
	TargetShare,
}

func init() {
	for _, t := range AllTargets {
		generic.RegisterTargetType(t)
	}
}

// =============================================================================
// STATES AND ACTIONS
// =============================================================================

type State = generic.ReactionState

const (
	None     = generic.StateNone
	Liked    = generic.StateLiked
	Disliked = generic.StateDisliked
)

// Action is the reaction a caller toggles.
type Action string

const (
	Like    Action = "like"
	Dislike Action = "dislike"
)

func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case Like, Dislike:
		return Action(s), nil
	}
	return "", fmt.Errorf("%w: %q", generic.ErrInvalidReaction, s)
}
