package builtin

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/notnil/chess"

	"AgentOS-Bridge/internal/tools"
)

const chessPlyLimit = 100

var pieceValues = map[chess.PieceType]int{
	chess.Pawn:   100,
	chess.Knight: 320,
	chess.Bishop: 330,
	chess.Rook:   500,
	chess.Queen:  900,
}

var pieceLetters = map[chess.PieceType]string{
	chess.King: "k", chess.Queen: "q", chess.Rook: "r",
	chess.Bishop: "b", chess.Knight: "n", chess.Pawn: "p",
}

// Chess 保存一盘进程内的对局，动作使用 UCI 记谱。
type Chess struct {
	mu   sync.Mutex
	game *chess.Game
}

// NewChess 创建棋局工具。
func NewChess() *Chess {
	return &Chess{}
}

// Definition 实现 tools.Tool。
func (c *Chess) Definition() tools.Definition {
	return tools.Definition{
		Name:        "chess",
		Description: "Play chess in UCI notation: new, move (e.g. e2e4), state, legal_moves, evaluate.",
		Params: []tools.Param{
			{Name: "action", Type: tools.TypeString, Required: true, Rules: "oneof=new move state legal_moves evaluate"},
			{Name: "move", Type: tools.TypeString, Rules: "min=4,max=5,alphanum"},
		},
		SideEffect: tools.LocalMutation,
		Latency:    tools.LatencyFast,
	}
}

// Invoke 实现 tools.Tool。
func (c *Chess) Invoke(_ context.Context, p tools.Params) (tools.Observation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	action := p.String("action")
	if c.game == nil || action == "new" {
		c.game = chess.NewGame(chess.UseNotation(chess.UCINotation{}))
	}
	switch action {
	case "new":
		return c.snapshot("new game started, White to move"), nil
	case "move":
		return c.move(strings.ToLower(p.String("move")))
	case "legal_moves":
		moves := c.legalMoves()
		items := make([]any, len(moves))
		for i, m := range moves {
			items[i] = m
		}
		return tools.NewObservation(strings.Join(moves, " "), map[string]any{"moves": items}), nil
	case "evaluate":
		score := material(c.game.Position().Board())
		return tools.NewObservation(fmt.Sprintf("material balance %+d centipawns", score), map[string]any{
			"score": score,
		}), nil
	default:
		return c.snapshot(c.status()), nil
	}
}

func (c *Chess) move(uci string) (tools.Observation, error) {
	if uci == "" {
		return tools.Observation{}, tools.Validationf("chess: move requires a move such as e2e4")
	}
	if over, result := c.over(); over {
		return tools.Observation{}, tools.Validationf("chess: game is over (%s)", result)
	}
	if err := c.game.MoveStr(uci); err != nil {
		return tools.Observation{}, tools.Validationf("chess: %s is not a legal move", uci)
	}
	return c.snapshot(fmt.Sprintf("played %s; %s", uci, c.status())), nil
}

func (c *Chess) legalMoves() []string {
	pos := c.game.Position()
	moves := c.game.ValidMoves()
	out := make([]string, len(moves))
	for i, m := range moves {
		out[i] = chess.UCINotation{}.Encode(pos, m)
	}
	return out
}

// over 判断对局是否结束，包括达到步数上限的和棋。
func (c *Chess) over() (bool, string) {
	switch c.game.Outcome() {
	case chess.WhiteWon:
		return true, "White wins by " + methodName(c.game.Method())
	case chess.BlackWon:
		return true, "Black wins by " + methodName(c.game.Method())
	case chess.Draw:
		return true, "Draw by " + methodName(c.game.Method())
	}
	if len(c.game.Moves()) >= chessPlyLimit {
		return true, "Draw by move limit"
	}
	return false, ""
}

func (c *Chess) status() string {
	if over, result := c.over(); over {
		return result
	}
	return turnName(c.game.Position().Turn()) + " to move"
}

func (c *Chess) snapshot(summary string) tools.Observation {
	pos := c.game.Position()
	board := pos.Board()
	rows := make([]any, 0, 8)
	for rank := 7; rank >= 0; rank-- {
		row := make([]any, 8)
		for file := 0; file < 8; file++ {
			row[file] = pieceSymbol(board.Piece(chess.Square(rank*8 + file)))
		}
		rows = append(rows, row)
	}
	moves := c.game.Moves()
	var last any
	inCheck := false
	if len(moves) > 0 {
		m := moves[len(moves)-1]
		last = m.String()
		inCheck = m.HasTag(chess.Check)
	}
	over, result := c.over()
	return tools.NewObservation(summary, map[string]any{
		"board":      rows,
		"fen":        pos.String(),
		"turn":       turnName(pos.Turn()),
		"move_count": len(moves),
		"last_move":  last,
		"in_check":   inCheck,
		"game_over":  over,
		"result":     result,
	})
}

// material 以白方视角计算子力差。
func material(board *chess.Board) int {
	score := 0
	for _, piece := range board.SquareMap() {
		v := pieceValues[piece.Type()]
		if piece.Color() == chess.White {
			score += v
		} else {
			score -= v
		}
	}
	return score
}

func pieceSymbol(p chess.Piece) string {
	if p == chess.NoPiece {
		return "."
	}
	letter := pieceLetters[p.Type()]
	if p.Color() == chess.White {
		return strings.ToUpper(letter)
	}
	return letter
}

func turnName(c chess.Color) string {
	if c == chess.White {
		return "White"
	}
	return "Black"
}

func methodName(m chess.Method) string {
	switch m {
	case chess.Checkmate:
		return "checkmate"
	case chess.Stalemate:
		return "stalemate"
	case chess.InsufficientMaterial:
		return "insufficient material"
	case chess.ThreefoldRepetition, chess.FivefoldRepetition:
		return "repetition"
	case chess.FiftyMoveRule, chess.SeventyFiveMoveRule:
		return "fifty-move rule"
	case chess.Resignation:
		return "resignation"
	case chess.DrawOffer:
		return "agreement"
	default:
		return "adjudication"
	}
}
