package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/henrytanbeaver/reapbid/internal/domain"
)

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Notify imprime el resumen del tick en el modo configurado.
func (c *Console) Notify(_ context.Context, outcomes []domain.TickOutcome) error {
	if len(outcomes) == 0 {
		fmt.Fprintf(c.out, "[%s] no games on autopilot\n", time.Now().Format("15:04:05"))
		return nil
	}

	if c.table {
		c.printTable(outcomes)
	} else {
		c.printCompact(outcomes)
	}
	return nil
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(outcomes []domain.TickOutcome) {
	now := time.Now().Format("15:04:05")

	var started, settled, ended, errs int
	for _, out := range outcomes {
		switch out.Action {
		case domain.TickStarted:
			started++
		case domain.TickSettled:
			settled++
		case domain.TickError:
			errs++
		}
		if out.Ended {
			ended++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %d games → start:%d settle:%d end:%d err:%d",
		now, len(outcomes), started, settled, ended, errs)

	shown := 0
	for _, out := range outcomes {
		if shown >= 4 {
			break
		}
		if out.Action == domain.TickIdle {
			continue
		}
		fmt.Fprintf(&sb, " | %s r%d %s", compactID(out.GameID), out.Round, verdict(out))
		shown++
	}

	fmt.Fprintln(c.out, sb.String())
}

// printTable imprime el detalle completo del tick.
func (c *Console) printTable(outcomes []domain.TickOutcome) {
	now := time.Now().Format("15:04:05")
	fmt.Fprintf(c.out, "\n[%s] autopilot tick — %d games\n", now, len(outcomes))

	table := tablewriter.NewWriter(c.out)
	table.Header("Game", "Action", "Round", "Ended", "Duration", "Error")

	for _, out := range outcomes {
		errLabel := ""
		if out.Err != nil {
			errLabel = out.Err.Error()
		}
		table.Append(
			out.GameID,
			out.Action,
			fmt.Sprintf("%d", out.Round),
			fmt.Sprintf("%t", out.Ended),
			out.Duration.Round(time.Millisecond).String(),
			errLabel,
		)
	}

	table.Render()
}

// verdict resume el outcome en una palabra para la línea compacta.
func verdict(out domain.TickOutcome) string {
	switch {
	case out.Err != nil:
		return "ERR"
	case out.Ended:
		return "ENDED"
	case out.Action == domain.TickSettled:
		return "settled"
	case out.Action == domain.TickStarted:
		return "started"
	case out.Action == domain.TickSkipped:
		return "no-quorum"
	default:
		return out.Action
	}
}

// compactID recorta ids largos para la línea compacta.
func compactID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
