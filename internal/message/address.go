package message

import (
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"
)

// Address is a mailbox with an optional display name.
type Address struct {
	Email string
	Name  string
}

// ParseAddress accepts "Name <user@host>", "<user@host>" or a bare address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, errors.New("empty address")
	}

	parsed, err := mail.ParseAddress(s)
	if err == nil {
		return Address{Email: parsed.Address, Name: parsed.Name}, nil
	}

	// net/mail rejects some addresses servers accept, e.g. "user@localhost_relay"
	bare := strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">")
	if strings.Count(bare, "@") == 1 && !strings.ContainsAny(bare, " <>\r\n") {
		return Address{Email: bare}, nil
	}
	return Address{}, err
}

// ParseAddressList parses each entry with ParseAddress.
func ParseAddressList(list []string) ([]Address, error) {
	out := make([]Address, 0, len(list))
	for _, s := range list {
		a, err := ParseAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Domain returns the part after the last '@', or "" if there is none.
func (a Address) Domain() string {
	at := strings.LastIndex(a.Email, "@")
	if at < 0 {
		return ""
	}
	return a.Email[at+1:]
}

// String renders the address for a header, without charset encoding.
func (a Address) String() string {
	if a.Name == "" {
		return "<" + a.Email + ">"
	}
	return quoteName(a.Name) + " <" + a.Email + ">"
}

// format renders the address for a header in charset.
func (a Address) format(charset string) (string, error) {
	if a.Name == "" || isASCII(a.Name) {
		return a.String(), nil
	}
	word, err := EncodeWord(a.Name, charset)
	if err != nil {
		return "", err
	}
	return word + " <" + a.Email + ">", nil
}

func (a Address) validate() error {
	if strings.ContainsAny(a.Email, "<>\r\n ") {
		return errors.New("address contains forbidden characters")
	}
	if strings.ContainsAny(a.Name, "\r\n") {
		return errors.New("display name contains a line break")
	}
	return nil
}

func quoteName(name string) string {
	if !strings.ContainsAny(name, `()<>[]:;@\,."`) {
		return name
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(name) + `"`
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
