package trello

// Board is a Trello board as returned by the /members/me/boards and
// /organizations/{id}/boards endpoints. Only the fields the pipeline
// consumes are mapped.
type Board struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Description      string  `json:"desc"`
	Closed           bool    `json:"closed"`
	IDOrganization   string  `json:"idOrganization"`
	URL              string  `json:"url"`
	ShortURL         string  `json:"shortUrl"`
	DateLastActivity *string `json:"dateLastActivity"`
}

// Member is a Trello member (user).
type Member struct {
	ID         string  `json:"id"`
	Username   string  `json:"username"`
	FullName   string  `json:"fullName"`
	Initials   string  `json:"initials"`
	AvatarURL  *string `json:"avatarUrl"`
	Email      string  `json:"email,omitempty"`
	Bio        string  `json:"bio,omitempty"`
	URL        string  `json:"url,omitempty"`
	LastActive *string `json:"dateLastActive,omitempty"`
}

// Badges carries the card counters Trello returns inline.
type Badges struct {
	Comments    int  `json:"comments"`
	Attachments int  `json:"attachments"`
	Description bool `json:"description"`
}

// Card is a Trello card. Attachments are present only when the request
// asked for them (attachments=true).
type Card struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Description      string       `json:"desc"`
	Closed           bool         `json:"closed"`
	IDBoard          string       `json:"idBoard"`
	IDList           string       `json:"idList"`
	IDMembers        []string     `json:"idMembers"`
	IDLabels         []string     `json:"idLabels"`
	URL              string       `json:"url"`
	ShortURL         string       `json:"shortUrl"`
	Due              *string      `json:"due"`
	DateLastActivity *string      `json:"dateLastActivity"`
	Badges           *Badges      `json:"badges,omitempty"`
	Attachments      []Attachment `json:"attachments,omitempty"`
}

// Attachment is a file or link attached to a card.
type Attachment struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	FileName  string `json:"fileName"`
	URL       string `json:"url"`
	MimeType  string `json:"mimeType"`
	Bytes     int64  `json:"bytes"`
	Date      string `json:"date"`
	IDMember  string `json:"idMember"`
	IsUpload  bool   `json:"isUpload"`
	EdgeColor string `json:"edgeColor,omitempty"`
}

// Label is a board label.
type Label struct {
	ID      string `json:"id"`
	IDBoard string `json:"idBoard"`
	Name    string `json:"name"`
	Color   string `json:"color"`
}

// List is a column on a board. Used to resolve card stage names.
type List struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	IDBoard string  `json:"idBoard"`
	Closed  bool    `json:"closed"`
	Pos     float64 `json:"pos"`
}

// CommentAction is a commentCard action from the card actions endpoint.
type CommentAction struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Date            string `json:"date"`
	IDMemberCreator string `json:"idMemberCreator"`
	Data            struct {
		Text string `json:"text"`
		Card struct {
			ID string `json:"id"`
		} `json:"card"`
	} `json:"data"`
}
