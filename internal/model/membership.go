package model

import (
	"fmt"
	"time"
)

// List identifies one of a user's membership lists.
type List string

const (
	ListLiked       List = "likedVideos"
	ListCollections List = "collections"
)

// ParseList validates a list name coming from outside the process.
func ParseList(s string) (List, error) {
	switch List(s) {
	case ListLiked, ListCollections:
		return List(s), nil
	}
	return "", fmt.Errorf("model: unknown list %q", s)
}

// Counter returns the video post counter that tracks this list.
func (l List) Counter() Counter {
	if l == ListLiked {
		return CounterLikes
	}
	return CounterCollections
}

// Membership is one entry of a user's list. PostID is a weak reference:
// the post may have been deleted since, in which case the entry is
// dropped the next time the list is read.
type Membership struct {
	UserID    string    `json:"userId"`
	PostID    string    `json:"postId"`
	List      List      `json:"list"`
	CreatedAt time.Time `json:"createdAt"`
}
