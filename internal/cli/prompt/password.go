package prompt

import (
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"

	"github.com/marmos91/netbridge/pkg/devicespec"
)

// Credentials asks for the login and password sent with the login and
// password specials. The login prompt is skipped when login is already set.
func Credentials(login string) (string, string, error) {
	if login == "" {
		p := promptui.Prompt{Label: "Login", Validate: ValidateCredential}
		var err error
		if login, err = p.Run(); err != nil {
			return "", "", wrapError(err)
		}
	}

	p := promptui.Prompt{Label: "Password", Mask: '*', Validate: ValidateCredential}
	password, err := p.Run()
	if err != nil {
		return "", "", wrapError(err)
	}
	return login, password, nil
}

// ValidateCredential rejects values the bridge would alter in transit: the
// payload is cut at NUL or end-of-line and capped at devicespec.MaxLength.
func ValidateCredential(input string) error {
	if len(input) > devicespec.MaxLength {
		return fmt.Errorf("longer than %d bytes", devicespec.MaxLength)
	}
	if strings.ContainsAny(input, "\x00\r\n\x9b") {
		return fmt.Errorf("must not contain NUL or end-of-line bytes")
	}
	return nil
}
