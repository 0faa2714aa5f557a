package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the message_type tag of an Envelope.
type Type string

const (
	TypeInitialise              Type = "Initialise"
	TypeNewClient               Type = "NewClient"
	TypeNewService              Type = "NewService"
	TypeAdvertisingClientGroups Type = "AdvertisingClientGroups"
	TypeGetPlaylists            Type = "GetPlaylists"
	TypeMakeMutualPlaylist      Type = "MakeMutualPlaylist"
	TypeJoinGroup               Type = "JoinGroup"
	TypePause                   Type = "Pause"
	TypePlay                    Type = "Play"
	TypeAddToQueue              Type = "AddToQueue"

	// typeNewWorker is accepted on decode as an alias of TypeNewService.
	typeNewWorker Type = "NewWorker"
)

var knownTypes = map[Type]struct{}{
	TypeInitialise:              {},
	TypeNewClient:               {},
	TypeNewService:              {},
	TypeAdvertisingClientGroups: {},
	TypeGetPlaylists:            {},
	TypeMakeMutualPlaylist:      {},
	TypeJoinGroup:               {},
	TypePause:                   {},
	TypePlay:                    {},
	TypeAddToQueue:              {},
}

// Known reports whether t is one of the recognised message types.
func (t Type) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

var (
	// ErrMalformed is returned by Decode when the payload is not a JSON envelope.
	ErrMalformed = errors.New("envelope: malformed message")

	// ErrUnknownType is returned by Decode for a message_type outside the closed set.
	ErrUnknownType = errors.New("envelope: unknown message type")
)

// ConnID is the transport-assigned identifier of one peer connection.
type ConnID uint32

// GroupID identifies a client group. Ids are allocated in strictly increasing order.
type GroupID uint64

// Group is one entry of an AdvertisingClientGroups snapshot.
type Group struct {
	GroupID       GroupID  `json:"group_id"`
	IsAdvertising bool     `json:"is_advertising"`
	Clients       []ConnID `json:"clients"`
}

// Envelope is the wire-level message unit.
type Envelope struct {
	Type    Type     `json:"message_type"`
	ID      *uint64  `json:"id"`
	Strings []string `json:"strings"`
	Groups  []Group  `json:"groups"`
}

// Decode parses one text message into an Envelope and checks its type tag.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: message_type is required", ErrMalformed)
	}
	if env.Type == typeNewWorker {
		env.Type = TypeNewService
	}
	if !env.Type.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	return &env, nil
}

// Encode serialises e as a single JSON object.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode %s: %w", e.Type, err)
	}
	return data, nil
}

// FirstString returns the first element of Strings, if any.
func (e *Envelope) FirstString() (string, bool) {
	if len(e.Strings) == 0 {
		return "", false
	}
	return e.Strings[0], true
}

// IDValue returns the numeric id field, if present.
func (e *Envelope) IDValue() (uint64, bool) {
	if e.ID == nil {
		return 0, false
	}
	return *e.ID, true
}

// --- constructors -----------------------------------------------------------

func withID(t Type, id uint64) *Envelope {
	return &Envelope{Type: t, ID: &id}
}

// Initialise is sent by the hub to every peer as soon as its connection opens.
func Initialise(id ConnID) *Envelope {
	return withID(TypeInitialise, uint64(id))
}

// AdvertisingGroups wraps a full group-table snapshot. A nil snapshot is
// written as an empty list so peers can always range over it.
func AdvertisingGroups(groups []Group) *Envelope {
	if groups == nil {
		groups = []Group{}
	}
	return &Envelope{Type: TypeAdvertisingClientGroups, Groups: groups}
}

// NewClient carries the authorization code a client obtained from the account service.
func NewClient(authCode string) *Envelope {
	return &Envelope{Type: TypeNewClient, Strings: []string{authCode}}
}

// NewService registers the sending connection as a worker of category.
func NewService(category string) *Envelope {
	return &Envelope{Type: TypeNewService, Strings: []string{category}}
}

// JoinGroup asks the hub to move the sender into group.
func JoinGroup(group GroupID) *Envelope {
	return withID(TypeJoinGroup, uint64(group))
}

// MakeMutualPlaylist is the work item the hub hands to a mutual-playlist
// worker: the access tokens of the group members, in member order.
func MakeMutualPlaylist(accessTokens []string) *Envelope {
	return &Envelope{Type: TypeMakeMutualPlaylist, Strings: accessTokens}
}
