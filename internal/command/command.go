// Package command decodes the callback tokens carried by interactive buttons
// and list rows into a closed set of intents. Tokens are built and parsed
// only here.
package command

import (
	"fmt"
	"strconv"
	"strings"

	"bra_notification_bot/internal/domain/subscription"
)

// Kind is the intent carried by a callback token.
type Kind int

const (
	Unknown         Kind = iota
	Welcome              // menu:welcome
	Search               // menu:search
	Browse               // browse:start
	SelectMountain       // browse:mountain:<name>
	MoreMassifs          // browse:more:<offset>
	SelectMassif         // massif:select:<code>
	Download             // massif:download:<code>
	Subscribe            // massif:subscribe:<code>
	ToggleContent        // content:toggle:<key>
	ConfirmContent       // content:confirm
	ManageMenu           // manage:menu
	ManageMassif         // manage:massif:<code>
	ManageToggle         // manage_toggle:<code>:<key>
	Unsubscribe          // unsub:massif:<code>
	UnsubscribeAll       // unsub:all
)

var kindNames = map[Kind]string{
	Unknown:        "unknown",
	Welcome:        "welcome",
	Search:         "search",
	Browse:         "browse",
	SelectMountain: "select_mountain",
	MoreMassifs:    "more_massifs",
	SelectMassif:   "select_massif",
	Download:       "download",
	Subscribe:      "subscribe",
	ToggleContent:  "toggle_content",
	ConfirmContent: "confirm_content",
	ManageMenu:     "manage_menu",
	ManageMassif:   "manage_massif",
	ManageToggle:   "manage_toggle",
	Unsubscribe:    "unsubscribe",
	UnsubscribeAll: "unsubscribe_all",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Command is a decoded callback token. Only the fields relevant to Kind are set.
type Command struct {
	Kind       Kind
	MassifCode int
	Mountain   string
	Offset     int
	Content    subscription.ContentType
	Raw        string
}

const (
	tokWelcome        = "menu:welcome"
	tokSearch         = "menu:search"
	tokBrowse         = "browse:start"
	tokMountainPrefix = "browse:mountain:"
	tokMorePrefix     = "browse:more:"
	tokSelectPrefix   = "massif:select:"
	tokDownloadPrefix = "massif:download:"
	tokSubPrefix      = "massif:subscribe:"
	tokTogglePrefix   = "content:toggle:"
	tokConfirm        = "content:confirm"
	tokManageMenu     = "manage:menu"
	tokManagePrefix   = "manage:massif:"
	tokManageToggle   = "manage_toggle:"
	tokUnsubPrefix    = "unsub:massif:"
	tokUnsubAll       = "unsub:all"
)

// Parse decodes a callback token by fixed-prefix matching.
// Malformed parameters yield Unknown.
func Parse(token string) Command {
	raw := token
	token = strings.TrimSpace(token)
	cmd := Command{Kind: Unknown, Raw: raw}

	switch {
	case token == tokWelcome:
		cmd.Kind = Welcome
	case token == tokSearch:
		cmd.Kind = Search
	case token == tokBrowse:
		cmd.Kind = Browse
	case token == tokConfirm:
		cmd.Kind = ConfirmContent
	case token == tokManageMenu:
		cmd.Kind = ManageMenu
	case token == tokUnsubAll:
		cmd.Kind = UnsubscribeAll
	case strings.HasPrefix(token, tokMountainPrefix):
		if name := strings.TrimPrefix(token, tokMountainPrefix); name != "" {
			cmd.Kind = SelectMountain
			cmd.Mountain = name
		}
	case strings.HasPrefix(token, tokMorePrefix):
		offset, err := strconv.Atoi(strings.TrimPrefix(token, tokMorePrefix))
		if err == nil && offset >= 0 {
			cmd.Kind = MoreMassifs
			cmd.Offset = offset
		}
	case strings.HasPrefix(token, tokSelectPrefix):
		return withCode(cmd, SelectMassif, strings.TrimPrefix(token, tokSelectPrefix))
	case strings.HasPrefix(token, tokDownloadPrefix):
		return withCode(cmd, Download, strings.TrimPrefix(token, tokDownloadPrefix))
	case strings.HasPrefix(token, tokSubPrefix):
		return withCode(cmd, Subscribe, strings.TrimPrefix(token, tokSubPrefix))
	case strings.HasPrefix(token, tokManagePrefix):
		return withCode(cmd, ManageMassif, strings.TrimPrefix(token, tokManagePrefix))
	case strings.HasPrefix(token, tokUnsubPrefix):
		return withCode(cmd, Unsubscribe, strings.TrimPrefix(token, tokUnsubPrefix))
	case strings.HasPrefix(token, tokTogglePrefix):
		if ct, ok := subscription.ParseContentType(strings.TrimPrefix(token, tokTogglePrefix)); ok {
			cmd.Kind = ToggleContent
			cmd.Content = ct
		}
	case strings.HasPrefix(token, tokManageToggle):
		parts := strings.Split(strings.TrimPrefix(token, tokManageToggle), ":")
		if len(parts) != 2 {
			return cmd
		}
		code, err := strconv.Atoi(parts[0])
		ct, ok := subscription.ParseContentType(parts[1])
		if err != nil || !ok {
			return cmd
		}
		cmd.Kind = ManageToggle
		cmd.MassifCode = code
		cmd.Content = ct
	}
	return cmd
}

func withCode(cmd Command, kind Kind, param string) Command {
	code, err := strconv.Atoi(param)
	if err != nil {
		return cmd
	}
	cmd.Kind = kind
	cmd.MassifCode = code
	return cmd
}

// Token builders.

func WelcomeToken() string               { return tokWelcome }
func SearchToken() string                { return tokSearch }
func BrowseToken() string                { return tokBrowse }
func MountainToken(name string) string   { return tokMountainPrefix + name }
func MoreMassifsToken(offset int) string { return tokMorePrefix + strconv.Itoa(offset) }
func SelectMassifToken(code int) string  { return tokSelectPrefix + strconv.Itoa(code) }
func DownloadToken(code int) string      { return tokDownloadPrefix + strconv.Itoa(code) }
func SubscribeToken(code int) string     { return tokSubPrefix + strconv.Itoa(code) }
func ConfirmContentToken() string        { return tokConfirm }
func ManageMenuToken() string            { return tokManageMenu }
func ManageMassifToken(code int) string  { return tokManagePrefix + strconv.Itoa(code) }
func UnsubscribeToken(code int) string   { return tokUnsubPrefix + strconv.Itoa(code) }
func UnsubscribeAllToken() string        { return tokUnsubAll }

func ToggleContentToken(ct subscription.ContentType) string {
	return tokTogglePrefix + string(ct)
}

func ManageToggleToken(code int, ct subscription.ContentType) string {
	return fmt.Sprintf("%s%d:%s", tokManageToggle, code, ct)
}
