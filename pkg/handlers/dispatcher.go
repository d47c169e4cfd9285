package handlers

import (
	"fmt"

	"github.com/callkaidsroofing/gem/pkg/handlers/comms"
	"github.com/callkaidsroofing/gem/pkg/handlers/crm"
	"github.com/callkaidsroofing/gem/pkg/handlers/diagnostics"
	"github.com/callkaidsroofing/gem/pkg/handlers/integrations"
	"github.com/callkaidsroofing/gem/pkg/handlers/inspections"
	"github.com/callkaidsroofing/gem/pkg/handlers/invoices"
	"github.com/callkaidsroofing/gem/pkg/handlers/jobs"
	"github.com/callkaidsroofing/gem/pkg/handlers/kit"
	"github.com/callkaidsroofing/gem/pkg/handlers/os"
	"github.com/callkaidsroofing/gem/pkg/handlers/quotes"
)

// Dispatcher resolves a registered tool name to its kit.Func.
type Dispatcher struct {
	funcs map[string]kit.Func
}

// NewDispatcher builds the fixed name -> Func table. Every tool in the
// registry document must have an entry here: cmd/worker checks the registry
// against this table once at startup and refuses to start on a gap. A
// worker built without that check seals a not_configured receipt for a
// tool whose name Resolve does not know.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{funcs: map[string]kit.Func{
		"os.health_check": os.HealthCheck,

		"leads.create": crm.Create,
		"leads.update": crm.Update,

		"inspections.schedule": inspections.Schedule,
		"inspections.complete": inspections.Complete,

		"quotes.create": quotes.Create,
		"quotes.send":   quotes.Send,

		"jobs.create":        jobs.Create,
		"jobs.update_status": jobs.UpdateStatus,

		"invoices.create":    invoices.Create,
		"invoices.mark_paid": invoices.MarkPaid,

		"comms.send_sms":   comms.SendSMS,
		"comms.send_email": comms.SendEmail,

		"integrations.google_drive.search": integrations.GoogleDriveSearch,

		"diagnostics.slow_echo": diagnostics.SlowEcho,
	}}
}

// Resolve returns the kit.Func registered for toolName.
func (d *Dispatcher) Resolve(toolName string) (kit.Func, error) {
	fn, ok := d.funcs[toolName]
	if !ok {
		return nil, fmt.Errorf("handlers: no implementation registered for %q", toolName)
	}
	return fn, nil
}

// RegisteredNames returns every tool name this dispatcher can execute, used
// at startup to cross-check against the loaded registry document.
func (d *Dispatcher) RegisteredNames() []string {
	names := make([]string, 0, len(d.funcs))
	for name := range d.funcs {
		names = append(names, name)
	}
	return names
}
