package cncclient

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"
)

// powerCommand is a platform-specific OS command that performs a power
// action on this machine.
type powerCommand struct {
	name string
	args []string
}

func sleepCommand() powerCommand {
	switch runtime.GOOS {
	case "windows":
		return powerCommand{"rundll32.exe", []string{"powrprof.dll,SetSuspendState", "0,1,0"}}
	case "darwin":
		return powerCommand{"pmset", []string{"sleepnow"}}
	default:
		return powerCommand{"systemctl", []string{"suspend"}}
	}
}

func shutdownCommand() powerCommand {
	switch runtime.GOOS {
	case "windows":
		return powerCommand{"shutdown", []string{"/s", "/t", "0"}}
	case "darwin":
		return powerCommand{"shutdown", []string{"-h", "now"}}
	default:
		return powerCommand{"shutdown", []string{"-h", "now"}}
	}
}

func runPowerCommand(cmd powerCommand) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := exec.CommandContext(ctx, cmd.name, cmd.args...).Run(); err != nil {
		return fmt.Errorf("cncclient: power command %s failed: %w", cmd.name, err)
	}
	return nil
}
