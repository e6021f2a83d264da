// Package prompt holds the interactive terminal prompts used by netbridge
// commands.
package prompt

import (
	"errors"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
)

// Confirm asks a yes/no question. An empty answer takes defaultYes.
func Confirm(label string, defaultYes bool) (bool, error) {
	p := promptui.Prompt{Label: label, IsConfirm: true}
	if defaultYes {
		p.Default = "y"
	}

	_, err := p.Run()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, promptui.ErrAbort):
		return false, nil
	default:
		return false, wrapError(err)
	}
}

// ConfirmOverwrite asks before replacing path. A path that does not exist
// is confirmed without asking.
func ConfirmOverwrite(path string) (bool, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	return Confirm(fmt.Sprintf("%s exists. Overwrite", path), false)
}
