package reporting

import (
	"fmt"
	"io"

	"github.com/owenrumney/go-sarif/v3/pkg/report/v210/sarif"
)

// SARIFExporter writes a Reporter's captured guest-trap diagnostics as a
// SARIF 2.1.0 log, the same report shape a static analyzer would emit,
// so existing SARIF viewers can browse a crash history alongside lint
// findings.
type SARIFExporter struct {
	writer io.Writer
}

// NewSARIFExporter returns an exporter writing to w.
func NewSARIFExporter(w io.Writer) *SARIFExporter {
	return &SARIFExporter{writer: w}
}

// Export writes every guest-trap diagnostic in r as one SARIF result,
// ruled under a single "guest-trap" reporting descriptor.
func (e *SARIFExporter) Export(r *Reporter) error {
	report := sarif.NewReport()
	run := sarif.NewRunWithInformationURI("sandboxrt", "https://github.com/sandboxrt/sandboxrt")

	rule := sarif.NewReportingDescriptor().WithID("guest-trap")
	rule.WithName("GuestTrap")
	rule.WithShortDescription(&sarif.MultiformatMessageString{Text: strPtr("A guest WASM module trapped")})
	rule.WithDefaultConfiguration(&sarif.ReportingConfiguration{Level: "error"})
	run.Tool.Driver.AddRule(rule)

	for _, trap := range r.GuestTraps() {
		result := sarif.NewRuleResult("guest-trap")
		result.Level = "error"
		result.Kind = "fail"
		result.Message = sarif.NewTextMessage(trap.Message)

		props := sarif.NewPropertyBag()
		props.Add("callStatus", trap.CallStatus)
		props.Add("capturedAt", trap.At.UTC().Format("2006-01-02T15:04:05.000Z"))
		if len(trap.Callstack) > 0 {
			frames := make([]string, len(trap.Callstack))
			for i, f := range trap.Callstack {
				frames[i] = fmt.Sprintf("%s+0x%x", f.FuncName, f.Offset)
			}
			props.Add("callstack", frames)
		}
		result.WithProperties(props)

		run.AddResult(result)
	}

	report.AddRun(run)

	if err := report.Write(e.writer); err != nil {
		return fmt.Errorf("reporting: writing SARIF report: %w", err)
	}
	_, err := e.writer.Write([]byte("\n"))
	return err
}

func strPtr(s string) *string {
	return &s
}
