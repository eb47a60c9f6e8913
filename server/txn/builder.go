package txn

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Contract parameters the client hard-codes.
const (
	// PledgeSize is the number of cards committed to a lobby or duel.
	PledgeSize = 7
	// RandomObjectID is the chain's shared randomness object.
	RandomObjectID = "0x8"
)

// Op names a contract entry point.
type Op string

const (
	OpCreateLobby Op = "create_lobby"
	OpJoinLobby   Op = "join_lobby"
	OpPlayTurn    Op = "play_turn"
	OpSwapCard    Op = "swap_card"
	OpResolveGame Op = "resolve_game"
	OpAbandonGame Op = "abandon_game"
	OpCreateDuel  Op = "create_poc_game"
	OpMintCards   Op = "create"
)

const (
	gameModule = "game"
	cardModule = "card"
)

var (
	ErrInvalidID  = errors.New("invalid object id")
	ErrPledgeSize = fmt.Errorf("pledge must contain exactly %d cards", PledgeSize)
	ErrNoPackage  = errors.New("contract package id not defined")
)

// MintSpec describes one card minted by card::create.
type MintSpec struct {
	Name        string
	ImageURL    string
	Description string
	Value       uint64
}

// StarterCards is the pack minted for new players.
func StarterCards() []MintSpec {
	out := make([]MintSpec, PledgeSize)
	for i := range out {
		out[i] = MintSpec{
			Name:        fmt.Sprintf("Warrior %d", i+1),
			ImageURL:    fmt.Sprintf("https://api.dicebear.com/7.x/avataaars/svg?seed=Warrior%d", i),
			Description: "Warrior Card",
			Value:       10,
		}
	}
	return out
}

// Builder turns game operations into payloads for one deployed package.
type Builder struct {
	pkg string
}

func NewBuilder(packageID string) (*Builder, error) {
	packageID = strings.TrimSpace(packageID)
	if packageID == "" {
		return nil, ErrNoPackage
	}
	if err := checkID("package", packageID); err != nil {
		return nil, err
	}
	return &Builder{pkg: packageID}, nil
}

func (b *Builder) PackageID() string { return b.pkg }

// StructType returns the fully qualified type of a struct in the package,
// e.g. StructType("game", "Game").
func (b *Builder) StructType(module, name string) string {
	return b.pkg + "::" + module + "::" + name
}

func (b *Builder) target(module string, op Op) string {
	return b.pkg + "::" + module + "::" + string(op)
}

func (b *Builder) call(op Op, args ...Arg) Payload {
	return Payload{Op: op, Calls: []MoveCall{{Target: b.target(gameModule, op), Arguments: args}}}
}

func checkPledge(pledge []string) error {
	if len(pledge) != PledgeSize {
		return fmt.Errorf("%w: got %d", ErrPledgeSize, len(pledge))
	}
	seen := make(map[string]struct{}, len(pledge))
	for _, id := range pledge {
		if err := checkID("card", id); err != nil {
			return err
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: card %s pledged twice", ErrPledgeSize, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (b *Builder) CreateLobby(pledge []string) (Payload, error) {
	if err := checkPledge(pledge); err != nil {
		return Payload{}, err
	}
	return b.call(OpCreateLobby, vectorArg(pledge)), nil
}

func (b *Builder) JoinLobby(lobbyID string, pledge []string) (Payload, error) {
	if err := checkID("lobby", lobbyID); err != nil {
		return Payload{}, err
	}
	if err := checkPledge(pledge); err != nil {
		return Payload{}, err
	}
	return b.call(OpJoinLobby, objectArg(lobbyID), vectorArg(pledge), objectArg(RandomObjectID)), nil
}

func (b *Builder) PlayTurn(gameID string) (Payload, error) {
	if err := checkID("game", gameID); err != nil {
		return Payload{}, err
	}
	return b.call(OpPlayTurn, objectArg(gameID)), nil
}

func (b *Builder) SwapCard(gameID string) (Payload, error) {
	if err := checkID("game", gameID); err != nil {
		return Payload{}, err
	}
	return b.call(OpSwapCard, objectArg(gameID), objectArg(RandomObjectID)), nil
}

func (b *Builder) ResolveGame(gameID string) (Payload, error) {
	if err := checkID("game", gameID); err != nil {
		return Payload{}, err
	}
	return b.call(OpResolveGame, objectArg(gameID), objectArg(RandomObjectID)), nil
}

func (b *Builder) AbandonGame(gameID string) (Payload, error) {
	if err := checkID("game", gameID); err != nil {
		return Payload{}, err
	}
	return b.call(OpAbandonGame, objectArg(gameID)), nil
}

// CreateDuel starts a game directly against opponent; the game object is
// created shared and is only discoverable through the transaction effects.
func (b *Builder) CreateDuel(pledge []string, opponent string) (Payload, error) {
	if err := checkPledge(pledge); err != nil {
		return Payload{}, err
	}
	if err := checkID("opponent", opponent); err != nil {
		return Payload{}, err
	}
	return b.call(OpCreateDuel, vectorArg(pledge), pureArg("address", opponent), objectArg(RandomObjectID)), nil
}

// MintCards builds one card::create call per MintSpec in a single transaction.
func (b *Builder) MintCards(specs []MintSpec) (Payload, error) {
	if len(specs) == 0 {
		return Payload{}, errors.New("nothing to mint")
	}
	p := Payload{Op: OpMintCards, Calls: make([]MoveCall, 0, len(specs))}
	for _, s := range specs {
		if strings.TrimSpace(s.Name) == "" {
			return Payload{}, errors.New("mint: card name required")
		}
		p.Calls = append(p.Calls, MoveCall{
			Target: b.target(cardModule, OpMintCards),
			Arguments: []Arg{
				pureArg("string", s.Name),
				pureArg("string", s.ImageURL),
				pureArg("string", s.Description),
				pureArg("u64", strconv.FormatUint(s.Value, 10)),
			},
		})
	}
	return p, nil
}
