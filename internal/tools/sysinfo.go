package tools

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SysInfo is a supplemental, read-only bonus tool: it never touches the
// sandbox or spawns a process, so it carries no Danger Classifier entry and
// needs no audit record.
func (t *Tools) SysInfo() (*Result, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return nil, fmt.Errorf("%w: reading cpu: %v", ErrIOFailure, err)
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("%w: reading memory: %v", ErrIOFailure, err)
	}
	wd, _ := os.Getwd()

	var cpuPct float64
	if len(percents) > 0 {
		cpuPct = percents[0]
	}

	return textResult(fmt.Sprintf("CPU: %.1f%%, RAM: %.1f%%, CWD: %s", cpuPct, vm.UsedPercent, wd)), nil
}
