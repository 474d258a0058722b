package assemble

import (
	"path/filepath"

	"github.com/teilen/snap-to-days/model"
)

// IndexDocument is the top-level output/index.json schema.
type IndexDocument struct {
	AccountOwner string        `json:"account_owner"`
	Users        []UserEntry   `json:"users"`
	Groups       []model.Group `json:"groups"`
}

type UserEntry struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Bitmoji     string `json:"bitmoji"`
}

// WriteIndex renders the final index document from the username set, the
// friends display names and the avatar paths. Avatars missing from the map
// fall back to the conventional bitmoji path for that username.
func WriteIndex(outputDir string, store *model.Store, displayNames, avatarPaths map[string]string) error {
	users := make([]UserEntry, 0, len(store.Usernames))
	for _, username := range store.SortedUsernames() {
		display := username
		if name, ok := displayNames[username]; ok {
			display = name
		}
		avatar, ok := avatarPaths[username]
		if !ok {
			avatar = "bitmoji/" + username + ".svg"
		}
		users = append(users, UserEntry{
			Username:    username,
			DisplayName: display,
			Bitmoji:     avatar,
		})
	}

	groups := store.Groups
	if groups == nil {
		groups = []model.Group{}
	}

	doc := IndexDocument{
		AccountOwner: store.Owner,
		Users:        users,
		Groups:       groups,
	}
	return writeJSON(filepath.Join(outputDir, "index.json"), doc)
}
