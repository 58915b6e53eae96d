package extract

import (
	"strconv"
	"strings"
	"time"

	"github.com/cardflow-io/cardflow/pkg/errors"
	"github.com/cardflow-io/cardflow/pkg/trello"
)

// NormalizedItem is the shape every pushed record takes.
type NormalizedItem struct {
	ID           string                 `json:"id"`
	CreatedDate  time.Time              `json:"created_date"`
	ModifiedDate time.Time              `json:"modified_date"`
	Data         map[string]interface{} `json:"data"`
}

// NormalizedAttachment is the metadata handed to the streamer.
type NormalizedAttachment struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	FileName string `json:"file_name"`
	ParentID string `json:"parent_id"`
	AuthorID string `json:"author_id,omitempty"`
}

// CreatedDateFromID recovers the creation time embedded in an object
// ID: the first 8 hex characters are Unix seconds.
func CreatedDateFromID(id string) (time.Time, error) {
	if len(id) < 8 {
		return time.Time{}, errors.Newf(errors.ErrorTypeNormalization,
			"id %q too short to carry a timestamp", id)
	}
	secs, err := strconv.ParseInt(id[:8], 16, 64)
	if err != nil {
		return time.Time{}, errors.Wrap(err, errors.ErrorTypeNormalization,
			"id prefix is not hexadecimal")
	}
	return time.Unix(secs, 0).UTC(), nil
}

// modifiedOrCreated parses an RFC3339 activity timestamp, falling back
// to the creation date when the field is absent or unparseable.
func modifiedOrCreated(lastActivity *string, created time.Time) time.Time {
	if lastActivity == nil || *lastActivity == "" {
		return created
	}
	t, err := time.Parse(time.RFC3339, *lastActivity)
	if err != nil {
		return created
	}
	return t.UTC()
}

// richText splits free-form text into lines, dropping blanks. Records
// carry descriptions as line arrays.
func richText(text string) []string {
	if text == "" {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// NormalizeMember converts an API member into a pushable record.
func NormalizeMember(m trello.Member) (*NormalizedItem, error) {
	if m.ID == "" || m.Username == "" {
		return nil, errors.New(errors.ErrorTypeNormalization,
			"member missing required id or username")
	}
	created, err := CreatedDateFromID(m.ID)
	if err != nil {
		return nil, err
	}
	return &NormalizedItem{
		ID:           m.ID,
		CreatedDate:  created,
		ModifiedDate: modifiedOrCreated(m.LastActive, created),
		Data: map[string]interface{}{
			"username":  m.Username,
			"full_name": m.FullName,
			"email":     m.Email,
			"avatar":    m.AvatarURL,
			"url":       m.URL,
		},
	}, nil
}

// NormalizeCard converts an API card. stageByList resolves the card's
// column name; an unknown list yields an empty stage rather than an
// error.
func NormalizeCard(c trello.Card, stageByList map[string]string) (*NormalizedItem, error) {
	if c.ID == "" || c.Name == "" {
		return nil, errors.New(errors.ErrorTypeNormalization,
			"card missing required id or name")
	}
	created, err := CreatedDateFromID(c.ID)
	if err != nil {
		return nil, err
	}
	url := c.ShortURL
	if url == "" {
		url = c.URL
	}
	return &NormalizedItem{
		ID:           c.ID,
		CreatedDate:  created,
		ModifiedDate: modifiedOrCreated(c.DateLastActivity, created),
		Data: map[string]interface{}{
			"title":       c.Name,
			"description": richText(c.Description),
			"board_id":    c.IDBoard,
			"list_id":     c.IDList,
			"stage":       stageByList[c.IDList],
			"owned_by":    c.IDMembers,
			"labels":      c.IDLabels,
			"due_date":    c.Due,
			"closed":      c.Closed,
			"url":         url,
		},
	}, nil
}

// NormalizeLabel converts a board label.
func NormalizeLabel(l trello.Label) (*NormalizedItem, error) {
	if l.ID == "" {
		return nil, errors.New(errors.ErrorTypeNormalization, "label missing id")
	}
	created, err := CreatedDateFromID(l.ID)
	if err != nil {
		return nil, err
	}
	name := l.Name
	if name == "" {
		name = l.Color
	}
	return &NormalizedItem{
		ID:           l.ID,
		CreatedDate:  created,
		ModifiedDate: created,
		Data: map[string]interface{}{
			"name":     name,
			"color":    l.Color,
			"board_id": l.IDBoard,
		},
	}, nil
}

// NormalizeComment converts a commentCard action.
func NormalizeComment(a trello.CommentAction) (*NormalizedItem, error) {
	if a.ID == "" {
		return nil, errors.New(errors.ErrorTypeNormalization, "comment missing id")
	}
	created, err := CreatedDateFromID(a.ID)
	if err != nil {
		return nil, err
	}
	modified := created
	if a.Date != "" {
		if t, perr := time.Parse(time.RFC3339, a.Date); perr == nil {
			modified = t.UTC()
		}
	}
	return &NormalizedItem{
		ID:           a.ID,
		CreatedDate:  created,
		ModifiedDate: modified,
		Data: map[string]interface{}{
			"body":      richText(a.Data.Text),
			"parent_id": a.Data.Card.ID,
			"author_id": a.IDMemberCreator,
		},
	}, nil
}

// NormalizeAttachment converts attachment metadata. Uploaded files
// live under trello.com and need authenticated access, so their URLs
// are rewritten to the API download endpoint; link attachments keep
// their original URL.
func NormalizeAttachment(a trello.Attachment, parentCardID, apiBaseURL string) (*NormalizedAttachment, error) {
	if a.ID == "" || a.URL == "" {
		return nil, errors.New(errors.ErrorTypeNormalization,
			"attachment missing required id or url")
	}
	fileName := a.FileName
	if fileName == "" {
		fileName = a.Name
	}
	url := a.URL
	if strings.HasPrefix(url, "https://trello.com") {
		url = strings.TrimRight(apiBaseURL, "/") +
			"/cards/" + parentCardID + "/attachments/" + a.ID + "/download/" + fileName
	}
	return &NormalizedAttachment{
		ID:       a.ID,
		URL:      url,
		FileName: fileName,
		ParentID: parentCardID,
		AuthorID: a.IDMember,
	}, nil
}
