// Package daemon implements myagent's process lifecycle: the PID file,
// liveness checks, the HTTP-RPC-backed stop/status commands, and
// self-relaunch into `serve` mode.
package daemon

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"

	"myagent/pkg/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WritePIDFile records the current process's PID at config.PIDFilePath().
func WritePIDFile() error {
	path := config.PIDFilePath()
	if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// RemovePIDFile deletes the PID file, ignoring a missing file.
func RemovePIDFile() {
	os.Remove(config.PIDFilePath())
}

func readPID() (int, bool) {
	data, err := os.ReadFile(config.PIDFilePath())
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

// isRunning reports whether pid names a live process, using signal 0 (no
// actual signal delivered, just existence/permission checked).
func isRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// IsDaemonRunning reports whether a myagent daemon currently holds the PID
// file and is alive, used by `update` to decide whether to mention
// `restart`.
func IsDaemonRunning() bool {
	pid, ok := readPID()
	return ok && isRunning(pid)
}

// StopDaemon stops a running myagent: HTTP RPC shutdown first, falling back
// to the PID file + SIGTERM.
func StopDaemon() error {
	port := loadPort()

	if _, ok := httpPostRPC(port, "shutdown"); ok {
		time.Sleep(500 * time.Millisecond)
		RemovePIDFile()
		fmt.Println("Stopped myagent")
		return nil
	}

	pid, ok := readPID()
	if !ok {
		return fmt.Errorf("myagent is not running")
	}
	if !isRunning(pid) {
		RemovePIDFile()
		return fmt.Errorf("process %d is not running (stale PID file removed)", pid)
	}
	if proc, err := os.FindProcess(pid); err == nil {
		proc.Signal(syscall.SIGTERM)
	}
	RemovePIDFile()
	fmt.Printf("Stopped myagent (PID %d)\n", pid)
	return nil
}

// ShowStatus prints the daemon's status: HTTP health check first, falling
// back to the PID file.
func ShowStatus() error {
	port := loadPort()

	if body, ok := httpGet(port, "/health"); ok {
		var health map[string]any
		if err := json.Unmarshal([]byte(body), &health); err == nil {
			fmt.Println("myagent is running")
			fmt.Printf("  Version: %v\n", health["version"])
			fmt.Printf("  PID:     %v\n", health["pid"])
			fmt.Printf("  Uptime:  %vs\n", health["uptime"])
			fmt.Printf("  Port:    %v\n", health["port"])
			return nil
		}
	}

	if pid, ok := readPID(); ok {
		if isRunning(pid) {
			fmt.Printf("myagent is running (PID %d)\n", pid)
		} else {
			RemovePIDFile()
			fmt.Println("myagent is not running (stale PID file removed)")
		}
	} else {
		fmt.Println("myagent is not running")
	}
	return nil
}

// Daemonize re-launches the current executable with the `serve` subcommand,
// redirecting stdio to the daemon log file, and returns once the child has
// been spawned.
func Daemonize() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	args := os.Args
	var newArgs []string
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "start", "restart":
			continue
		case "-c", "--config":
			if i+1 < len(args) {
				newArgs = append(newArgs, args[i], args[i+1])
				i++
				continue
			}
		}
	}
	newArgs = append(newArgs, "serve")

	logDir := config.LogDir()
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	logFile := logDir + string(os.PathSeparator) + "myagent.log"

	logOut, err := os.Create(logFile)
	if err != nil {
		return err
	}
	defer logOut.Close()

	cmd := exec.Command(exe, newArgs...)
	cmd.Stdout = logOut
	cmd.Stderr = logOut
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil {
		return err
	}

	fmt.Printf("myagent started (PID %d)\n", cmd.Process.Pid)
	fmt.Printf("Log: %s\n", logFile)
	return nil
}

func loadPort() int {
	cfg, err := config.Load(config.DefaultConfigPath())
	if err != nil {
		return config.DefaultPort
	}
	return cfg.Port
}

// httpGet issues a minimal raw-TCP HTTP/1.1 GET, returning the response
// body. Used only by the CLI's stop/status commands, which have no need for
// a full HTTP client.
func httpGet(port int, path string) (string, bool) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 2*time.Second)
	if err != nil {
		return "", false
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	req := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: 127.0.0.1\r\nConnection: close\r\n\r\n", path)
	if _, err := conn.Write([]byte(req)); err != nil {
		return "", false
	}
	return readHTTPBody(conn)
}

// httpPostRPC issues a minimal raw-TCP JSON-RPC POST to /rpc.
func httpPostRPC(port int, method string) (string, bool) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 3*time.Second)
	if err != nil {
		return "", false
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))

	body := fmt.Sprintf(`{"jsonrpc":"2.0","method":"%s","id":1}`, method)
	req := fmt.Sprintf(
		"POST /rpc HTTP/1.1\r\nHost: 127.0.0.1\r\nContent-Type: application/json\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		len(body), body,
	)
	if _, err := conn.Write([]byte(req)); err != nil {
		return "", false
	}
	return readHTTPBody(conn)
}

func readHTTPBody(conn net.Conn) (string, bool) {
	reader := bufio.NewReader(conn)
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	resp := sb.String()
	parts := strings.SplitN(resp, "\r\n\r\n", 2)
	if len(parts) != 2 {
		return "", false
	}
	return parts[1], true
}
