package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/canflash/usb2can/internal/ui"
	"github.com/canflash/usb2can/pkg/bootloader"
	"github.com/canflash/usb2can/pkg/can"
	"github.com/canflash/usb2can/pkg/firmware"
	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type uploadOptions struct {
	file         string
	password     string
	profile      string
	canInterface string
	channel      string
	plain        bool
}

func (a *app) uploadCmd() *cobra.Command {
	opts := uploadOptions{}
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a firmware image to the CAN bootloader",
		Long: `Send the bootloader password, announce the image size and stream the
image in 8 byte frames. The adapter is reset to boot mode once done,
whether the upload succeeded or not.

Raw binaries and Intel HEX files (.hex, .ihex) are accepted.`,
		Example: `  usb2can upload --port /dev/ttyUSB0 --file app.bin --password CAFEBEEF
  usb2can upload --file app.hex --profile simple --plain`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.upload(cmd.Context(), opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.file, "file", "f", "", "firmware image")
	flags.StringVar(&opts.password, "password", "", "bootloader password, 4 bytes in hex (default from config)")
	flags.StringVar(&opts.profile, "profile", "", "channel layout : segmented or simple (default from config)")
	flags.StringVar(&opts.canInterface, "interface", "", "upload through another CAN interface instead of the adapter")
	flags.StringVar(&opts.channel, "channel", "", "channel of --interface e.g. can0")
	flags.BoolVar(&opts.plain, "plain", false, "log progress instead of the interactive view")
	return cmd
}

func (a *app) uploaderConfig(opts uploadOptions) (bootloader.Config, error) {
	config := a.config.UploaderConfig()
	if opts.password != "" {
		password, err := firmware.ParsePassword(opts.password)
		if err != nil {
			return config, err
		}
		config.Password = password
	}
	if opts.profile != "" {
		profile, err := bootloader.ParseProfile(opts.profile)
		if err != nil {
			return config, err
		}
		config.Profile = profile
	}
	return config, nil
}

// Link to the bootloader, the configured adapter session by default
func (a *app) openLink(opts uploadOptions) (bootloader.Link, error) {
	canInterface := opts.canInterface
	if canInterface == "" || canInterface == "usb2can" {
		session, _, _, err := a.openConfigured()
		if err != nil {
			return nil, err
		}
		return session, nil
	}
	bus, err := a.openBus(canInterface, opts.channel)
	if err != nil {
		return nil, err
	}
	link, err := can.NewBusLink(bus, can.DefaultLinkQueueSize)
	if err != nil {
		bus.Disconnect()
		return nil, err
	}
	return link, nil
}

func (a *app) upload(ctx context.Context, opts uploadOptions) error {
	const action = "firmware upload"
	image, err := firmware.Load(opts.file)
	if err != nil {
		return a.report(ui.StatusFromError(action, "", err), err)
	}
	config, err := a.uploaderConfig(opts)
	if err != nil {
		return a.report(ui.StatusFromError(action, "", err), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var program *tea.Program
	if opts.plain {
		config.Progress = func(p bootloader.Progress) {
			log.Infof("[UPLOAD] %v %d/%d bytes (%.0f%%)", p.Phase, p.BytesSent, p.Total, p.Percentage())
		}
	} else {
		title := fmt.Sprintf("%s (%d bytes, %v)", image.Path, image.Size(), config.Profile)
		program = tea.NewProgram(ui.NewUploadModel(title, image.Size(), cancel), tea.WithOutput(a.out))
		config.Progress = func(p bootloader.Progress) {
			program.Send(ui.ProgressMsg(p))
		}
	}

	link, err := a.openLink(opts)
	if err != nil {
		return a.report(ui.StatusFromError(action, "", err), err)
	}
	uploader, err := bootloader.New(link, config)
	if err != nil {
		link.Close()
		return a.report(ui.StatusFromError(action, "", err), err)
	}
	task, err := uploader.Start(ctx, image.Data)
	if err != nil {
		link.Close()
		return a.report(ui.StatusFromError(action, "", err), err)
	}
	log.Debugf("[UPLOAD] task %v started", task.ID)

	if program != nil {
		go func() {
			program.Send(ui.DoneMsg(task.Wait()))
		}()
		if _, err := program.Run(); err != nil {
			log.Warnf("[UPLOAD] progress view failed : %v", err)
			task.Cancel()
		}
	} else {
		interrupt, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
		go func() {
			select {
			case <-interrupt.Done():
				task.Cancel()
			case <-task.Done():
			}
		}()
	}

	result := task.Wait()
	success := fmt.Sprintf("firmware uploaded (%d bytes)", result.Total)
	status := ui.StatusFromError(action, success, result.Err)
	if result.Partial() {
		status.Text = fmt.Sprintf("%s, %d/%d bytes sent", status.Text, result.BytesSent, result.Total)
	}
	return a.report(status, result.Err)
}
