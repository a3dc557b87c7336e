package ports

import (
	"context"
	"time"

	"github.com/henrytanbeaver/reapbid/internal/domain"
)

// Monitor es el log append-only de acciones del autopilot.
// Un fallo al registrar nunca debe tumbar la acción que lo origina.
type Monitor interface {
	// Record añade una entrada. Rellena ID y Timestamp si vienen vacíos.
	Record(ctx context.Context, ev domain.Event) error

	// Cleanup borra entradas anteriores a olderThan y devuelve cuántas.
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
}
