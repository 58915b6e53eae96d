package trello

import (
	"net/url"

	"github.com/cardflow-io/cardflow/pkg/errors"
)

// Credentials holds the API key and token used to authenticate every
// request. Trello authenticates with query parameters, not headers.
type Credentials struct {
	APIKey string
	Token  string
}

// ParseCredentials parses a connection key of the form
// "key=<api-key>&token=<token>". Both fields must be present and
// non-empty.
func ParseCredentials(connectionKey string) (Credentials, error) {
	values, err := url.ParseQuery(connectionKey)
	if err != nil {
		return Credentials{}, errors.Wrap(err, errors.ErrorTypeInvalidCredentials,
			"failed to parse connection key")
	}

	creds := Credentials{
		APIKey: values.Get("key"),
		Token:  values.Get("token"),
	}
	if creds.APIKey == "" || creds.Token == "" {
		return Credentials{}, errors.New(errors.ErrorTypeInvalidCredentials,
			"connection key must contain both key and token")
	}
	return creds, nil
}

// apply appends the credentials to a query string.
func (c Credentials) apply(q url.Values) {
	q.Set("key", c.APIKey)
	q.Set("token", c.Token)
}
