package htmx

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"

	"github.com/a-h/templ"

	"gridclash/internal/models"
)

// GamePage is the full spectator page; the board inside is swapped by SSE updates.
func GamePage(s *models.GameSession, viewer string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		stream := "/watch/" + url.PathEscape(s.ID) + "/events"
		if viewer != "" {
			stream += "?as=" + url.QueryEscape(viewer)
		}
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>gridclash: %s</title>
<script src="https://unpkg.com/htmx.org@2.0.4"></script>
<script src="https://unpkg.com/htmx-ext-sse@2.2.2/sse.js"></script>
</head>
<body>
<div id="game-container" hx-ext="sse" sse-connect="%s">
<div id="game-content" sse-swap="game-update" hx-swap="innerHTML">`, templ.EscapeString(s.ID), templ.EscapeString(stream)); err != nil {
			return err
		}
		if err := GameContent(s, viewer).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</div>
<div id="reactions" sse-swap="reaction" hx-swap="beforeend"></div>
</div>
</body>
</html>`)
		return err
	})
}

// GameContent renders the status line and the board.
func GameContent(s *models.GameSession, viewer string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := Status(s).Render(ctx, w); err != nil {
			return err
		}
		return Board(s, viewer).Render(ctx, w)
	})
}

// Status renders a one-line summary of the session.
func Status(s *models.GameSession) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<div class="status" id="status">&gt; %s</div>`, templ.EscapeString(statusLine(s)))
		return err
	})
}

func statusLine(s *models.GameSession) string {
	name := func(p *string) string {
		if p == nil {
			return "?"
		}
		return *p
	}
	switch s.Status {
	case models.StatusWaiting:
		return "waiting for an opponent"
	case models.StatusInProgress:
		if s.CurrentTurn == nil {
			return "bot is thinking..."
		}
		return "turn: " + *s.CurrentTurn
	}
	if s.Winner == nil {
		return "result: draw"
	}
	line := "winner: " + *s.Winner
	if s.ForfeitBy != nil {
		line += " (" + name(s.ForfeitBy) + " forfeited)"
	}
	return line
}

// Board renders the grid. In fog mode a seated viewer only sees their own pieces
// until the game is over.
func Board(s *models.GameSession, viewer string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		hide := models.Empty
		if s.Mode == models.ModeFog && s.Status == models.StatusInProgress {
			if own := s.SymbolOf(viewer); own != models.Empty {
				hide = own.Opponent()
			}
		}

		var b strings.Builder
		fmt.Fprintf(&b, `<div class="board size-%d mode-%s" id="board">`, s.BoardSize, templ.EscapeString(string(s.Mode)))
		for i, cell := range s.Board {
			class, text := "cell", ""
			switch {
			case cell == models.Empty && slices.Contains(s.BombedCells, i):
				class += " bombed"
			case cell == models.Empty:
			case cell == hide:
				class += " hidden"
			case cell == models.Blocker:
				class += " blocker"
				text = "#"
			default:
				class += " " + strings.ToLower(string(cell))
				text = string(cell)
			}
			if slices.Contains(s.WinningLine, i) {
				class += " win"
			}
			fmt.Fprintf(&b, `<div class="%s" data-cell="%d">%s</div>`, class, i, templ.EscapeString(text))
		}
		b.WriteString(`</div>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// ReactionLine renders one relayed reaction.
func ReactionLine(senderName, emoji string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<div class="reaction">%s %s</div>`, templ.EscapeString(senderName), templ.EscapeString(emoji))
		return err
	})
}
