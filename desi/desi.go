// Package desi interprets the CAN frames exchanged with DESI fiber
// positioners, for use as a high-level analyzer.
package desi

import (
	"fmt"

	"github.com/mewkiz/raccoon/can"
)

// commands maps DESI command identifiers to their names.
var commands = map[uint32]string{
	2:  "set_currents",
	3:  "set_periods",
	4:  "set_up_move",
	5:  "set_reset_leds",
	6:  "run_test_sequence",
	7:  "execute_move_table",
	8:  "get_move_table_status",
	9:  "get_temperature",
	10: "get_CAN_address",
	11: "get_firmware_version",
	12: "get_device_type",
	13: "get_movement_status",
	14: "get_current_monitor_vals",
	15: "get_bootloader_version",
	16: "set_duty_fid",
	17: "read_sid_lower",
	18: "read_sid_upper",
	19: "read_sid_short",
	20: "write_CAN_address",
	21: "read_CAN_address",
	22: "check_sid_lower",
	23: "check_sid_upper",
	24: "check_sid_short",
	25: "check_device",
	30: "set_currents_legacy",
	31: "set_motor_parameters_legacy",
	32: "set_cruise_and_cw_creep_amounts_legacy",
	33: "set_up_move_legacy",
	34: "execute_move_legacy",
	35: "flash_leds_legacy",
	36: "get_bootloader_version_alt",
	37: "get_firmware_version_alt",
	40: "enter_stop_mode, exit via SYNC",
	41: "enter_stop_mode, exit via CAN",
	43: "enter_bootloader_mode",
	44: "dump_n_bytes",
	45: "get_fw_flash_checksum",
	46: "get_sync_status",
	47: "get_system_clock",
	48: "set_fid_pwm_frequency",
	49: "get_fid_pwm_frequency",
}

// Broadcast positioner identifiers.
const (
	idAll    = 20000
	idAllPos = 20001
	idAllFid = 20002
)

// An Analyzer interprets DESI positioner traffic. It tracks the last command
// sent on the bus, which determines how the following responses are read.
type Analyzer struct {
	lastCommand uint32
	hasLast     bool
}

// New returns a DESI analyzer. Its Interpret method satisfies the can.HLA
// contract.
func New() *Analyzer {
	return new(Analyzer)
}

// Interpret maps a decoded frame to a command or response description. It
// reports false for frames carrying an unknown command identifier.
func (a *Analyzer) Interpret(f can.Frame) (string, bool) {
	if f.ID&0x10000000 != 0 {
		// Response from a positioner.
		positioner := f.ID & 0xFFFFF
		if a.hasLast && a.lastCommand == 9 {
			temperature := uint16(f.Data[1])<<8 | uint16(f.Data[0])
			return fmt.Sprintf("%d T=%04X", positioner, temperature), true
		}
		return fmt.Sprintf("<=%d", positioner), true
	}
	command, ok := commands[f.ID&0xFF]
	if !ok {
		return "", false
	}
	var positioner string
	switch id := f.ID >> 8; id {
	case idAll:
		positioner = "ALL"
	case idAllPos:
		positioner = "ALLPOS"
	case idAllFid:
		positioner = "ALLFID"
	default:
		positioner = fmt.Sprintf("%d", id)
	}
	a.lastCommand = f.ID & 0xFF
	a.hasLast = true
	return fmt.Sprintf("%s=>%s", command, positioner), true
}
