package services

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huangang/buildlog/internal/models"
)

func TestNormalizePage(t *testing.T) {
	opts := DefaultOptions()
	tests := []struct {
		name              string
		page, limit       int
		wantPage, wantLim int
		wantErr           bool
	}{
		{"defaults", 0, 0, 1, 20, false},
		{"explicit", 3, 10, 3, 10, false},
		{"clamped", 1, 500, 1, 100, false},
		{"negative page", -1, 10, 0, 0, true},
		{"negative limit", 1, -5, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, limit, err := normalizePage("test", tt.page, tt.limit, opts)
			if tt.wantErr {
				assertKind(t, err, KindInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPage, page)
			assert.Equal(t, tt.wantLim, limit)
		})
	}
}

func TestNewPage_Boundaries(t *testing.T) {
	first := newPage([]int{1, 2}, 1, 2, 5)
	assert.Equal(t, 3, first.TotalPages)
	assert.False(t, first.HasPrev)
	assert.True(t, first.HasNext)

	last := newPage([]int{5}, 3, 2, 5)
	assert.True(t, last.HasPrev)
	assert.False(t, last.HasNext)

	empty := newPage[int](nil, 1, 20, 0)
	assert.NotNil(t, empty.Data)
	assert.Zero(t, empty.TotalPages)
	assert.False(t, empty.HasNext)
}

func TestProjectQuery_Normalize(t *testing.T) {
	opts := DefaultOptions()

	q := ProjectQuery{}
	require.NoError(t, q.normalize("test", opts))
	assert.Equal(t, []models.ProjectStatus{models.ProjectActive}, q.Statuses)
	assert.Equal(t, SortUpdatedAt, q.SortBy)
	assert.Equal(t, SortDesc, q.Direction)

	q = ProjectQuery{SortBy: SortTitle, Role: "contributor", Tags: []string{" A ", "a"}}
	require.NoError(t, q.normalize("test", opts))
	assert.Equal(t, SortAsc, q.Direction)
	assert.Equal(t, models.RoleEditor, q.Role)
	assert.Equal(t, []string{"a"}, q.Tags)

	statuses := []models.ProjectStatus{"ARCHIVED"}
	q = ProjectQuery{Statuses: statuses}
	require.NoError(t, q.normalize("test", opts))
	assert.Equal(t, models.ProjectStatus("ARCHIVED"), statuses[0], "caller's slice is not modified")

	now := time.Now()
	bad := []ProjectQuery{
		{Visibility: "secret"},
		{Statuses: []models.ProjectStatus{"gone"}},
		{Role: "root"},
		{SortBy: "popularity"},
		{Direction: "sideways"},
		{CreatedAfter: &now, CreatedBefore: &now},
	}
	for _, q := range bad {
		q := q
		assertKind(t, q.normalize("test", opts), KindInvalid)
	}
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, "50!%!_off!!", escapeLike("50%_off!"))
}

func TestNormalizeTags(t *testing.T) {
	assert.Nil(t, normalizeTags(nil))
	assert.Equal(t, []string{"go", "web"}, normalizeTags([]string{"Go", " ", "WEB", "go"}))
}

func TestNormalizeTagsMultibyte(t *testing.T) {
	got := normalizeTags([]string{strings.Repeat("é", 70), strings.Repeat("a", 63) + "ü"})
	require.Len(t, got, 2)
	for _, tag := range got {
		assert.True(t, utf8.ValidString(tag))
		assert.Equal(t, maxTagLength, utf8.RuneCountInString(tag))
	}
	assert.Equal(t, strings.Repeat("é", 64), got[0])
	assert.Equal(t, strings.Repeat("a", 63)+"ü", got[1])
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncateRunes("héllo", 5))
	assert.Equal(t, "hé", truncateRunes("héllo", 2))
	assert.Equal(t, "日本", truncateRunes("日本語", 2))
	assert.Equal(t, "", truncateRunes("abc", 0))
}
