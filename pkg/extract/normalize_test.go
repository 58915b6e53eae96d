package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardflow-io/cardflow/pkg/errors"
	"github.com/cardflow-io/cardflow/pkg/trello"
)

func strptr(s string) *string { return &s }

func TestCreatedDateFromID(t *testing.T) {
	// 0x5d81e458 == 1568793688
	created, err := CreatedDateFromID("5d81e458aaaaaaaaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1568793688, 0).UTC(), created)

	_, err = CreatedDateFromID("zzzzzzzzaaaa")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNormalization))

	_, err = CreatedDateFromID("5d81")
	require.Error(t, err)
}

func TestNormalizeMember(t *testing.T) {
	m := trello.Member{
		ID:       "5d81e458aaaaaaaaaaaaaaaa",
		Username: "jdoe",
		FullName: "J. Doe",
		Email:    "jdoe@example.com",
	}
	item, err := NormalizeMember(m)
	require.NoError(t, err)
	assert.Equal(t, m.ID, item.ID)
	assert.Equal(t, time.Unix(1568793688, 0).UTC(), item.CreatedDate)
	// No activity timestamp: modified falls back to created.
	assert.Equal(t, item.CreatedDate, item.ModifiedDate)
	assert.Equal(t, "jdoe", item.Data["username"])
	assert.Equal(t, "jdoe@example.com", item.Data["email"])
}

func TestNormalizeMemberMissingUsername(t *testing.T) {
	_, err := NormalizeMember(trello.Member{ID: "5d81e458aaaaaaaaaaaaaaaa"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNormalization))
}

func TestNormalizeCard(t *testing.T) {
	c := trello.Card{
		ID:               "5d81e458bbbbbbbbbbbbbbbb",
		Name:             "Fix login flow",
		Description:      "First line\n\n\nSecond line\n",
		IDBoard:          "board1",
		IDList:           "list1",
		IDMembers:        []string{"m1", "m2"},
		ShortURL:         "https://trello.com/c/abc",
		DateLastActivity: strptr("2024-06-01T12:30:00.000Z"),
	}
	item, err := NormalizeCard(c, map[string]string{"list1": "In Progress"})
	require.NoError(t, err)
	assert.Equal(t, "Fix login flow", item.Data["title"])
	assert.Equal(t, []string{"First line", "Second line"}, item.Data["description"])
	assert.Equal(t, "In Progress", item.Data["stage"])
	assert.Equal(t, time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC), item.ModifiedDate)
}

func TestNormalizeCardUnknownListYieldsEmptyStage(t *testing.T) {
	c := trello.Card{ID: "5d81e458bbbbbbbbbbbbbbbb", Name: "x", IDList: "missing"}
	item, err := NormalizeCard(c, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "", item.Data["stage"])
}

func TestNormalizeCardMissingName(t *testing.T) {
	_, err := NormalizeCard(trello.Card{ID: "5d81e458bbbbbbbbbbbbbbbb"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNormalization))
}

func TestNormalizeCardBadActivityTimestampFallsBack(t *testing.T) {
	c := trello.Card{
		ID:               "5d81e458bbbbbbbbbbbbbbbb",
		Name:             "x",
		DateLastActivity: strptr("not-a-timestamp"),
	}
	item, err := NormalizeCard(c, nil)
	require.NoError(t, err)
	assert.Equal(t, item.CreatedDate, item.ModifiedDate)
}

func TestNormalizeLabelFallsBackToColor(t *testing.T) {
	item, err := NormalizeLabel(trello.Label{ID: "5d81e458cccccccccccccccc", Color: "green"})
	require.NoError(t, err)
	assert.Equal(t, "green", item.Data["name"])
}

func TestNormalizeAttachmentRewritesTrelloURL(t *testing.T) {
	a := trello.Attachment{
		ID:       "5d81e458dddddddddddddddd",
		FileName: "report.pdf",
		URL:      "https://trello.com/1/cards/c1/attachments/a1/download/report.pdf",
		IDMember: "m1",
	}
	meta, err := NormalizeAttachment(a, "cardX", "https://api.trello.com/1")
	require.NoError(t, err)
	assert.Equal(t, "https://api.trello.com/1/cards/cardX/attachments/5d81e458dddddddddddddddd/download/report.pdf", meta.URL)
	assert.Equal(t, "cardX", meta.ParentID)
	assert.Equal(t, "m1", meta.AuthorID)
}

func TestNormalizeAttachmentKeepsForeignURL(t *testing.T) {
	a := trello.Attachment{
		ID:   "5d81e458dddddddddddddddd",
		Name: "design doc",
		URL:  "https://docs.example.com/spec",
	}
	meta, err := NormalizeAttachment(a, "cardX", "https://api.trello.com/1")
	require.NoError(t, err)
	assert.Equal(t, "https://docs.example.com/spec", meta.URL)
	assert.Equal(t, "design doc", meta.FileName)
}

func TestNormalizeAttachmentMissingURL(t *testing.T) {
	_, err := NormalizeAttachment(trello.Attachment{ID: "x"}, "c", "b")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNormalization))
}

func TestInScope(t *testing.T) {
	boundary := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, InScope(boundary, nil))
	assert.True(t, InScope(boundary.Add(time.Second), &boundary))
	assert.False(t, InScope(boundary, &boundary))
	assert.False(t, InScope(boundary.Add(-time.Second), &boundary))
}
