package muc

import (
	"fmt"

	"mellium.im/xmpp/jid"

	"github.com/meszmate/caucus/internal/config"
	"github.com/meszmate/caucus/internal/logging"
)

// NickPolicy decides how a default nickname is derived from the local
// identity.
type NickPolicy string

const (
	NickLocalpart NickPolicy = "localpart"
	NickBareJID   NickPolicy = "bare"
)

// RoleSet is a set of roles
type RoleSet map[Role]struct{}

// Contains reports set membership
func (s RoleSet) Contains(r Role) bool {
	_, ok := s[r]
	return ok
}

// Settings are the normalized groupchat settings consumed by the
// service. They are derived from the raw configuration exactly once,
// at load time.
type Settings struct {
	Allowed            bool
	AllowInvites       bool
	AutoAcceptInvites  bool
	DisabledRoles      RoleSet
	ShownStatusCodes   map[int]struct{}
	NickPolicy         NickPolicy
	MEPLegacyGroupchat bool
}

// allRoles is the full assignable role set
var allRoles = []Role{RoleModerator, RoleParticipant, RoleVisitor}

// NormalizeDisabledRoles turns the raw disabled_roles config value
// into a role set. The value is either absent, the boolean true
// (meaning every role) or a list of role names.
func NormalizeDisabledRoles(v interface{}) (RoleSet, error) {
	set := make(RoleSet)
	switch val := v.(type) {
	case nil:
	case bool:
		if val {
			for _, r := range allRoles {
				set[r] = struct{}{}
			}
		}
	case []interface{}:
		for _, entry := range val {
			name, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("disabled role must be a string, got %T", entry)
			}
			set[Role(name)] = struct{}{}
		}
	case []string:
		for _, name := range val {
			set[Role(name)] = struct{}{}
		}
	default:
		return nil, fmt.Errorf("disabled_roles must be a boolean or a list, got %T", v)
	}
	return set, nil
}

// SettingsFromConfig normalizes the raw MUC configuration. Invalid
// sub-values are logged and replaced by their defaults; they never
// abort startup.
func SettingsFromConfig(cfg *config.MUCConfig, log *logging.Logger) Settings {
	disabled, err := NormalizeDisabledRoles(cfg.DisabledRoles)
	if err != nil {
		log.Error("ignoring disabled_roles: %v", err)
		disabled = make(RoleSet)
	}

	codes := make(map[int]struct{}, len(cfg.ShownStatusCodes))
	for _, c := range cfg.ShownStatusCodes {
		codes[c] = struct{}{}
	}

	policy := NickPolicy(cfg.NickPolicy)
	switch policy {
	case NickLocalpart, NickBareJID:
	default:
		if cfg.NickPolicy != "" {
			log.Error("unknown nick_policy %q, using %q", cfg.NickPolicy, NickLocalpart)
		}
		policy = NickLocalpart
	}

	return Settings{
		Allowed:            cfg.Enabled,
		AllowInvites:       cfg.AllowInvites,
		AutoAcceptInvites:  cfg.AutoAcceptInvites,
		DisabledRoles:      disabled,
		ShownStatusCodes:   codes,
		NickPolicy:         policy,
		MEPLegacyGroupchat: cfg.MEPLegacyGroupchat,
	}
}

// RoomSpec is one parsed auto-join entry: either a bare JID string or
// a {jid, nick, password} table in the configuration, normalized into
// a single shape before any use.
type RoomSpec struct {
	JID      jid.JID
	Nick     string
	Password string
}

// ParseRoomEntries normalizes raw auto-join entries. Malformed
// entries are reported without stopping the rest; callers log the
// returned errors and proceed with the valid specs.
func ParseRoomEntries(entries []interface{}) ([]RoomSpec, []error) {
	var specs []RoomSpec
	var errs []error

	for i, entry := range entries {
		switch val := entry.(type) {
		case string:
			j, err := jid.Parse(val)
			if err != nil {
				errs = append(errs, fmt.Errorf("entry %d: invalid room JID %q: %w", i, val, err))
				continue
			}
			specs = append(specs, RoomSpec{JID: j.Bare()})
		case map[string]interface{}:
			raw, ok := val["jid"].(string)
			if !ok {
				errs = append(errs, fmt.Errorf("entry %d: room table has no jid", i))
				continue
			}
			j, err := jid.Parse(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("entry %d: invalid room JID %q: %w", i, raw, err))
				continue
			}
			spec := RoomSpec{JID: j.Bare()}
			if nick, ok := val["nick"].(string); ok {
				spec.Nick = nick
			}
			if password, ok := val["password"].(string); ok {
				spec.Password = password
			}
			specs = append(specs, spec)
		default:
			errs = append(errs, fmt.Errorf("entry %d: unrecognized auto-join entry %v (%T)", i, entry, entry))
		}
	}

	return specs, errs
}
