package main

import (
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"node.town/subtitler/audio"
	"node.town/subtitler/audio/mic"
)

var listDevicesCmd = &cobra.Command{
	Use:   "list-devices",
	Short: "List input devices usable with --device",
	RunE:  runListDevices,
}

func runListDevices(cmd *cobra.Command, args []string) error {
	if err := mic.Init(); err != nil {
		return err
	}
	defer mic.Terminate()

	devices, err := mic.ListDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return audio.ErrNoDevices
	}

	renderDevices(os.Stdout, devices)
	return nil
}

func renderDevices(w io.Writer, devices []audio.Device) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Device", "Name", "Channels", "Rate", "Host"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, d := range devices {
		table.Append([]string{
			fmt.Sprintf("%d", d.Index),
			d.Name,
			fmt.Sprintf("%d", d.Channels),
			fmt.Sprintf("%.0f Hz", d.DefaultSampleRate),
			d.HostAPI,
		})
	}

	table.Render()
}
