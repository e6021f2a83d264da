package prompt

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"

	"github.com/marmos91/netbridge/pkg/devicespec"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// IsAborted returns true if the error indicates the user aborted (Ctrl+C).
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) || errors.Is(err, ErrAborted)
}

// wrapError converts promptui interrupt/abort errors to ErrAborted for consistent handling.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsAborted(err) {
		return ErrAborted
	}
	return err
}

// InputDeviceSpec prompts for a device spec such as "N:TNFS://host/".
func InputDeviceSpec(label, defaultValue string) (string, error) {
	prompt := promptui.Prompt{
		Label:    label,
		Default:  defaultValue,
		Validate: ValidateDeviceSpec,
	}

	result, err := prompt.Run()
	return result, wrapError(err)
}

// ValidateDeviceSpec fails unless input parses as a URL with a scheme and
// a path or port.
func ValidateDeviceSpec(input string) error {
	_, rest := devicespec.SplitUnit(input)
	if !devicespec.Parse(rest).Valid() {
		return fmt.Errorf("device spec needs a scheme, e.g. N:TNFS://host/")
	}
	return nil
}
