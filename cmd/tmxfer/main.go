// Command tmxfer is the standalone chunk transfer tool: it sends a single
// byte range of a file to a receiver, or runs a receiver that
// reconstructs files from incoming chunks.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/treemover/treemover/internal/checksum"
	"github.com/treemover/treemover/internal/faults"
	"github.com/treemover/treemover/internal/logging"
	"github.com/treemover/treemover/internal/transport"
	"github.com/treemover/treemover/pkg/model"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:           "tmxfer",
	Short:         "Send or receive file chunks over the framed transfer protocol",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newReceiveCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newSendCmd() *cobra.Command {
	var (
		host         string
		port         int
		file         string
		relativePath string
		offset       int64
		length       int64
		mode         string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one chunk of a file to a receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New("tmxfer", logLevel)

			if host == "" {
				return faults.Config("--host is required")
			}
			if file == "" {
				return faults.Config("--file is required")
			}
			if offset < 0 {
				return faults.Configf("--offset must be non-negative, got %d", offset)
			}
			if relativePath == "" {
				relativePath = filepath.Base(file)
			}

			f, err := os.Open(file)
			if err != nil {
				return faults.WrapIO(err, "open source file")
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return faults.WrapIO(err, "stat source file")
			}
			if length < 0 {
				length = info.Size() - offset
			}
			if length < 0 || offset > info.Size() {
				return faults.Configf("offset %d and length %d exceed file size %d", offset, length, info.Size())
			}
			if _, err := f.Seek(offset, io.SeekStart); err != nil {
				return faults.WrapIO(err, "seek source file")
			}

			sum, err := rangeChecksum(file, offset, length)
			if err != nil {
				return err
			}

			var tr transport.Transport
			switch model.TransferMode(mode) {
			case model.ModeTCP:
				tr = transport.NewTCP(logger)
			case model.ModeQUIC:
				tr = transport.NewQUIC(logger)
			default:
				return faults.Configf("unknown transfer mode %q", mode)
			}

			return tr.SendChunk(cmd.Context(), transport.Endpoint{Host: host, Port: port}, transport.Payload{
				RelativePath: relativePath,
				Offset:       offset,
				Length:       length,
				Data:         io.LimitReader(f, length),
				Checksum:     sum,
			})
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "receiver host")
	cmd.Flags().IntVar(&port, "port", model.DefaultDataPort, "receiver port")
	cmd.Flags().StringVar(&file, "file", "", "source file path")
	cmd.Flags().StringVar(&relativePath, "relative-path", "", "wire-relative destination path (default: file base name)")
	cmd.Flags().Int64Var(&offset, "offset", 0, "byte offset of the chunk within the file")
	cmd.Flags().Int64Var(&length, "length", -1, "chunk length in bytes (default: rest of the file)")
	cmd.Flags().StringVar(&mode, "mode", string(model.ModeTCP), "transfer mode (tcp or quic)")
	return cmd
}

func newReceiveCmd() *cobra.Command {
	var (
		bind     string
		port     int
		destRoot string
		once     bool
	)

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Receive chunks and reconstruct files under a destination root",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New("tmxfer", logLevel)

			if destRoot == "" {
				return faults.Config("--dest-root is required")
			}

			tcpReceiver := transport.NewReceiver(destRoot, logger)
			if err := tcpReceiver.Listen(bind, port); err != nil {
				return err
			}
			defer tcpReceiver.Close()
			boundPort := tcpReceiver.BoundPort()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			quicReceiver := transport.NewQUICReceiver(destRoot, logger)
			if err := quicReceiver.Listen(bind, boundPort); err != nil {
				return err
			}
			defer quicReceiver.Close()

			// The handshake line other processes wait on.
			fmt.Fprintf(os.Stdout, "PORT=%d\n", boundPort)

			if once {
				return tcpReceiver.ReceiveOne()
			}

			errCh := make(chan error, 2)
			go func() { errCh <- tcpReceiver.Serve() }()
			go func() { errCh <- quicReceiver.Serve(ctx) }()

			select {
			case <-ctx.Done():
				return nil
			case err := <-errCh:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "bind address (default: all interfaces)")
	cmd.Flags().IntVar(&port, "port", model.DefaultDataPort, "listen port (0 picks an ephemeral port)")
	cmd.Flags().StringVar(&destRoot, "dest-root", "", "directory received files are written under")
	cmd.Flags().BoolVar(&once, "once", false, "exit after receiving a single chunk")
	return cmd
}

func rangeChecksum(path string, offset, length int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", faults.WrapIO(err, "open source file for checksum")
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", faults.WrapIO(err, "seek source file for checksum")
	}

	acc := checksum.NewAccumulator()
	buf := make([]byte, 1<<20)
	remaining := length
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, err := f.Read(buf[:n])
		if read > 0 {
			acc.Update(buf[:read])
			remaining -= int64(read)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", faults.WrapIO(err, "read source file for checksum")
		}
	}
	return acc.Hex(), nil
}
