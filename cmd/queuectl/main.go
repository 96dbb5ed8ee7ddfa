// Command queuectl is the operator- and script-facing front end to the
// queue daemon: check its status, submit a job and wait for the result,
// or ask it to shut down. On submit it auto-starts the daemon if one
// isn't already running and --daemon-path names the queued binary;
// without --daemon-path, submitting to a stopped daemon fails.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/brennhill/mcp-queue-daemon/internal/queueclient"
)

const version = "0.1.0"

func main() {
	var (
		statusFlag   = flag.Bool("status", false, "print daemon status and exit")
		shutdownFlag = flag.Bool("shutdown", false, "ask the daemon to shut down and exit")
		startFlag    = flag.Bool("start", false, "start the daemon if it isn't already running, then exit")
		showVer      = flag.Bool("version", false, "print version and exit")

		endpoint     = flag.String("endpoint", "", "remote MCP endpoint URL (or mock://... for testing)")
		submitTool   = flag.String("submit-tool", "", "tool name that submits the job")
		statusTool   = flag.String("status-tool", "", "tool name that polls job status")
		resultTool   = flag.String("result-tool", "", "tool name that fetches the finished result")
		argsJSON     = flag.String("args", "{}", "JSON object of arguments to pass to the submit tool")
		outputDir    = flag.String("output-dir", "", "directory to save downloaded results into")
		outputFile   = flag.String("output-file", "", "explicit output filename, used verbatim")
		autoFilename = flag.Bool("auto-filename", false, "derive the output filename from the job id and timestamp")

		daemonPath = flag.String("daemon-path", "", "path to the queued binary, for auto-start")
		runtimeDir = flag.String("runtime-dir", "", "override the runtime directory (default ~/.cache/mcp-queue)")
		configPath = flag.String("config", "", "path to queue_config.yaml")
	)
	flag.Parse()

	if *showVer {
		fmt.Println("queuectl " + version)
		return
	}

	opts := queueclient.Options{
		RuntimeDir: *runtimeDir,
		DaemonPath: *daemonPath,
		ConfigPath: *configPath,
	}

	switch {
	case *statusFlag:
		exitOn(printStatus(opts))
	case *shutdownFlag:
		exitOn(queueclient.ShutdownDaemon(opts))
	case *startFlag:
		exitOn(queueclient.StartDaemon(opts))
	default:
		exitOn(submitAndPrint(opts, *endpoint, *submitTool, *statusTool, *resultTool, *argsJSON, *outputDir, *outputFile, *autoFilename))
	}
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "queuectl: "+err.Error())
		os.Exit(1)
	}
}

func printStatus(opts queueclient.Options) error {
	status, err := queueclient.GetStatus(opts)
	if err != nil {
		return err
	}
	fmt.Printf("running=%d queued=%d completed=%d failed=%d\n",
		status.Running, status.Queued, status.Completed, status.Failed)
	for _, j := range status.Jobs {
		fmt.Printf("  %s  %-10s %s\n", j.JobID, j.Status, j.Endpoint)
	}
	return nil
}

func submitAndPrint(opts queueclient.Options, endpoint, submitTool, statusTool, resultTool, argsJSON, outputDir, outputFile string, autoFilename bool) error {
	if endpoint == "" || submitTool == "" || statusTool == "" || resultTool == "" {
		return fmt.Errorf("--endpoint, --submit-tool, --status-tool, and --result-tool are all required")
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}

	result, err := queueclient.SubmitAndWait(context.Background(), opts, queueclient.SubmitAndWaitRequest{
		Endpoint:     endpoint,
		SubmitTool:   submitTool,
		SubmitArgs:   args,
		StatusTool:   statusTool,
		ResultTool:   resultTool,
		OutputDir:    outputDir,
		OutputFile:   outputFile,
		AutoFilename: autoFilename,
	})
	if err != nil {
		return err
	}

	enc, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}
