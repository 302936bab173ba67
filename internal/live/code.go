package live

import (
	"context"
	"crypto/rand"
	"time"
)

// codeAlphabet deliberately drops 0/O, 1/I/L so codes survive being read
// aloud or copied from a projector. 31 characters.
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const (
	codeLength       = 6
	codePrefixLength = 2
	codeMaxAttempts  = 5
)

// GenerateCode produces a session code for the given date: a two-character
// date-derived prefix followed by random characters. Format is fixed, value
// is not.
func GenerateCode(date string) string {
	return datePrefix(date) + randomCode(codeLength-codePrefixLength)
}

// AllocateUniqueCode generates codes until one passes the existence probe,
// up to a bounded number of attempts. If every attempt collides, the last
// candidate gets a time-derived tail and is returned without a further
// probe; the store's create path is still the final arbiter.
func AllocateUniqueCode(ctx context.Context, date string, exists func(context.Context, string) (bool, error)) (string, error) {
	var code string
	for attempt := 0; attempt < codeMaxAttempts; attempt++ {
		code = GenerateCode(date)
		taken, err := exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	nano := time.Now().UnixNano()
	tail := string(codeAlphabet[nano%int64(len(codeAlphabet))]) +
		string(codeAlphabet[(nano/int64(len(codeAlphabet)))%int64(len(codeAlphabet))])
	return code[:codeLength-2] + tail, nil
}

func datePrefix(date string) string {
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return randomCode(codePrefixLength)
	}
	month := (int(parsed.Month()) - 1) % len(codeAlphabet)
	day := (parsed.Day() - 1) % len(codeAlphabet)
	return string(codeAlphabet[month]) + string(codeAlphabet[day])
}

func randomCode(length int) string {
	raw := make([]byte, length)
	_, _ = rand.Read(raw)
	out := make([]byte, length)
	for i, b := range raw {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out)
}
