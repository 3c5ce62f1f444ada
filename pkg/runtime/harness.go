package runtime

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	manifest "github.com/joeydtaylor/steeze-offline/pkg/manifest"
	"go.uber.org/zap"
)

// Interpreter binaries; overridable through the environment.
var (
	nodeBin   = envOr("STEEZE_NODE", "node")
	pythonBin = envOr("STEEZE_PYTHON", "python3")
	rubyBin   = envOr("STEEZE_RUBY", "ruby")
)

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

// splitHandler turns "src/handler.hello" into ("src/handler", "hello").
func splitHandler(h string) (module, export string, err error) {
	i := strings.LastIndexByte(h, '.')
	if i <= 0 || i == len(h)-1 {
		return "", "", errEmptyHandler
	}
	return h[:i], h[i+1:], nil
}

func workerDir(fn manifest.Function, opts Options) string {
	if filepath.IsAbs(fn.Dir) {
		return fn.Dir
	}
	return filepath.Join(opts.BaseDir, fn.Dir)
}

func workerEnv(fn manifest.Function, opts Options, module, export string) []string {
	dir := workerDir(fn, opts)
	env := os.Environ()
	env = append(env,
		"STEEZE_HANDLER_MODULE="+filepath.Join(dir, module),
		"STEEZE_HANDLER_EXPORT="+export,
		"AWS_LAMBDA_FUNCTION_NAME="+fn.Name,
		"AWS_LAMBDA_FUNCTION_VERSION=$LATEST",
		"AWS_LAMBDA_FUNCTION_TIMEOUT="+strconv.FormatFloat(fn.TimeoutS, 'f', -1, 64),
		"AWS_EXECUTION_ENV=AWS_Lambda_"+fn.Runtime,
		"IS_OFFLINE=true",
	)
	for k, v := range fn.Environment {
		env = append(env, k+"="+v)
	}
	return env
}

func interpreterLauncher(bin string, args func(script string) []string, script string) launcher {
	return func(fn manifest.Function, opts Options) (*exec.Cmd, error) {
		module, export, err := splitHandler(fn.Handler)
		if err != nil {
			return nil, err
		}
		cmd := exec.Command(bin, args(script)...)
		cmd.Dir = workerDir(fn, opts)
		cmd.Env = workerEnv(fn, opts, module, export)
		return cmd, nil
	}
}

var (
	nodeLauncher   = interpreterLauncher(nodeBin, func(s string) []string { return []string{"-e", s} }, nodeHarness)
	pythonLauncher = interpreterLauncher(pythonBin, func(s string) []string { return []string{"-u", "-c", s} }, pythonHarness)
	rubyLauncher   = interpreterLauncher(rubyBin, func(s string) []string { return []string{"-e", s} }, rubyHarness)
)

// lineLogger forwards a worker's output stream to zap, one entry per line.
type lineLogger struct {
	log    *zap.Logger
	stream string
	mu     sync.Mutex
	buf    bytes.Buffer
}

func newLineLogger(log *zap.Logger, stream string) *lineLogger {
	return &lineLogger{log: log, stream: stream}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(p)
	for {
		i := bytes.IndexByte(l.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(l.buf.Next(i+1)), "\r\n")
		if line != "" {
			l.log.Info(line, zap.String("stream", l.stream))
		}
	}
	return len(p), nil
}

const nodeHarness = `
const fs = require('fs');
const path = require('path');
const readline = require('readline');
const { pathToFileURL } = require('url');

const send = (msg) => fs.writeSync(4, JSON.stringify(msg) + '\n');
const base = process.env.STEEZE_HANDLER_MODULE;
const exportName = process.env.STEEZE_HANDLER_EXPORT;
const STREAMED = Symbol.for('steeze.streamed');

globalThis.awslambda = {
  streamifyResponse(fn) {
    fn[STREAMED] = true;
    return fn;
  },
  HttpResponseStream: {
    from(stream, metadata) {
      stream.metadata = metadata;
      return stream;
    },
  },
};

function responseStream() {
  const chunks = [];
  const toBuffer = (c, enc) => (Buffer.isBuffer(c) ? c : Buffer.from(c instanceof Uint8Array ? c : String(c), enc));
  return {
    chunks,
    contentType: undefined,
    setContentType(t) { this.contentType = t; },
    write(chunk, enc, cb) {
      if (typeof enc === 'function') { cb = enc; enc = undefined; }
      chunks.push(toBuffer(chunk, enc));
      if (cb) cb();
      return true;
    },
    end(chunk, enc, cb) {
      if (typeof chunk === 'function') { cb = chunk; chunk = undefined; }
      if (chunk !== undefined && chunk !== null) this.write(chunk, enc);
      if (typeof cb === 'function') cb();
      return this;
    },
    on() { return this; },
    once() { return this; },
    emit() { return false; },
  };
}

const sendChunks = (id, chunks) =>
  send({ id, streamed: true, chunks: chunks.map((c) => c.toString('base64')) });

async function load() {
  for (const ext of ['', '.js', '.mjs', '.cjs']) {
    const file = base + ext;
    if (fs.existsSync(file) && fs.statSync(file).isFile()) {
      const mod = await import(pathToFileURL(path.resolve(file)).href);
      const fn = mod[exportName] ?? (mod.default && mod.default[exportName]);
      if (typeof fn !== 'function') throw new Error('Handler ' + exportName + ' is not a function in ' + file);
      return fn;
    }
  }
  throw new Error('Cannot find handler module ' + base);
}

function toError(err) {
  if (err instanceof Error) {
    return { errorType: err.name || 'Error', errorMessage: err.message, trace: String(err.stack || '').split('\n') };
  }
  return { errorType: 'Error', errorMessage: String(err) };
}

const handlerPromise = load();
const rl = readline.createInterface({ input: fs.createReadStream(null, { fd: 3 }) });
rl.on('line', async (line) => {
  const req = JSON.parse(line);
  const ctx = {
    ...req.context,
    clientContext: req.context.clientContext,
    getRemainingTimeInMillis: () => (req.context.deadlineMs ? req.context.deadlineMs - Date.now() : 0),
    callbackWaitsForEmptyEventLoop: true,
  };
  try {
    const handler = await handlerPromise;
    if (handler[STREAMED]) {
      const rs = responseStream();
      await handler(req.event, rs, ctx);
      sendChunks(req.id, rs.chunks);
      return;
    }
    const result = await new Promise((resolve, reject) => {
      const maybe = handler(req.event, ctx, (err, res) => (err ? reject(err) : resolve(res)));
      if (maybe && typeof maybe.then === 'function') maybe.then(resolve, reject);
    });
    if (Buffer.isBuffer(result)) {
      sendChunks(req.id, [result]);
    } else {
      send({ id: req.id, result: result === undefined ? null : result });
    }
  } catch (err) {
    send({ id: req.id, error: toError(err) });
  }
});
rl.on('close', () => process.exit(0));
`

const pythonHarness = `
import importlib.util, json, os, sys, time, traceback

base = os.environ["STEEZE_HANDLER_MODULE"]
export = os.environ["STEEZE_HANDLER_EXPORT"]
handler = None
load_error = None
try:
    sys.path.insert(0, os.path.dirname(base))
    spec = importlib.util.spec_from_file_location("handler", base + ".py")
    module = importlib.util.module_from_spec(spec)
    spec.loader.exec_module(module)
    handler = getattr(module, export)
except Exception as e:
    load_error = e

class Context:
    def __init__(self, c):
        self.aws_request_id = c.get("awsRequestId")
        self.function_name = c.get("functionName")
        self.client_context = c.get("clientContext")
        self._deadline = c.get("deadlineMs") or 0
    def get_remaining_time_in_millis(self):
        return max(0, int(self._deadline - time.time() * 1000)) if self._deadline else 0

out = os.fdopen(4, "w")
def send(msg):
    out.write(json.dumps(msg) + "\n")
    out.flush()

for line in os.fdopen(3, "r"):
    req = json.loads(line)
    try:
        if load_error is not None:
            raise load_error
        send({"id": req["id"], "result": handler(req["event"], Context(req["context"]))})
    except Exception as e:
        send({"id": req["id"], "error": {
            "errorType": type(e).__name__,
            "errorMessage": str(e),
            "trace": traceback.format_exception(type(e), e, e.__traceback__),
        }})
`

const rubyHarness = `
require 'json'

base = ENV['STEEZE_HANDLER_MODULE']
export = ENV['STEEZE_HANDLER_EXPORT']
load_error = nil
begin
  require File.expand_path(base + '.rb')
rescue Exception => e
  load_error = e
end

Context = Struct.new(:aws_request_id, :function_name, :client_context, :deadline_ms) do
  def get_remaining_time_in_millis
    deadline_ms ? [deadline_ms - (Time.now.to_f * 1000).to_i, 0].max : 0
  end
end

input = IO.new(3, 'r')
output = IO.new(4, 'w')
output.sync = true

input.each_line do |line|
  req = JSON.parse(line)
  c = req['context']
  begin
    raise load_error if load_error
    ctx = Context.new(c['awsRequestId'], c['functionName'], c['clientContext'], c['deadlineMs'])
    result = send(export.to_sym, event: req['event'], context: ctx)
    output.puts(JSON.generate({ id: req['id'], result: result }))
  rescue Exception => e
    output.puts(JSON.generate({ id: req['id'], error: { errorType: e.class.name, errorMessage: e.message, trace: e.backtrace || [] } }))
  end
end
`
