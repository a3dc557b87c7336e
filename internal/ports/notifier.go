package ports

import (
	"context"

	"github.com/henrytanbeaver/reapbid/internal/domain"
)

// Notifier presenta el resultado de cada tick del scheduler al operador.
// En la implementación de consola, imprime una línea compacta o una tabla.
type Notifier interface {
	Notify(ctx context.Context, outcomes []domain.TickOutcome) error
}
