package build_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/cobuild/backend/internal/model/build"
)

func TestThreadsMergeIsIdempotent(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := build.Comment{ID: "c1", Attribute: "color", Author: "ana", Text: "red?", CreatedAt: now}

	threads := build.Threads{}
	require.True(t, threads.Merge(c))
	require.False(t, threads.Merge(c))
	require.Len(t, threads["color"], 1)
	require.Equal(t, 1, threads.Len())
}

func TestThreadsMergeOrdersByCreatedAt(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	threads := build.Threads{}
	threads.Merge(build.Comment{ID: "late", Attribute: "color", CreatedAt: now.Add(time.Minute)})
	threads.Merge(build.Comment{ID: "early", Attribute: "color", CreatedAt: now})
	threads.Merge(build.Comment{ID: "other", Attribute: "wheels", CreatedAt: now})

	require.Equal(t, "early", threads["color"][0].ID)
	require.Equal(t, "late", threads["color"][1].ID)
	require.Len(t, threads["wheels"], 1)

	clone := threads.Clone()
	clone.Merge(build.Comment{ID: "new", Attribute: "color", CreatedAt: now.Add(2 * time.Minute)})
	require.Len(t, threads["color"], 2)
	require.Len(t, clone["color"], 3)
}
