package prompt

import (
	"strings"

	"github.com/manifoldco/promptui"
)

// SelectScheme offers schemes in a list that filters by typed prefix.
func SelectScheme(schemes []string) (string, error) {
	s := promptui.Select{
		Label: "Scheme",
		Items: schemes,
		Size:  12,
		Searcher: func(input string, index int) bool {
			return strings.HasPrefix(schemes[index], strings.ToUpper(strings.TrimSpace(input)))
		},
		StartInSearchMode: true,
		Templates: &promptui.SelectTemplates{
			Label:    "{{ . }}",
			Active:   "> {{ . | cyan }}://",
			Inactive: "  {{ . }}://",
			Selected: "* {{ . | green }}://",
		},
	}

	_, scheme, err := s.Run()
	return scheme, wrapError(err)
}
