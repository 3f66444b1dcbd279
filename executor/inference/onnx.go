package inference

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	DefaultBatchSize    = 128
	DefaultBatchTimeout = 1 * time.Millisecond
)

// ErrClosed is returned by evaluators after Close.
var ErrClosed = errors.New("inference: evaluator closed")

// OnnxClientConfig describes the model and how requests are batched.
//
// The model takes "input" of shape [B, Planes, BoardSize, BoardSize] and
// produces "policy" [B, BoardSize*BoardSize] and "value" [B, 1].
type OnnxClientConfig struct {
	BatchSize    int
	BatchTimeout time.Duration

	Planes    int
	BoardSize int

	PolicyOutput PolicyOutput
	DisableCUDA  bool

	Logger *slog.Logger
}

func (c OnnxClientConfig) inputSize() int  { return c.Planes * c.BoardSize * c.BoardSize }
func (c OnnxClientConfig) policySize() int { return c.BoardSize * c.BoardSize }

type pendingEval struct {
	input []float32
	reply chan evalResult
}

type evalResult struct {
	policy []float32
	value  float32
	err    error
}

// OnnxClient evaluates boards with ONNX Runtime. Concurrent EvaluatePlanes
// calls are gathered into batches of up to BatchSize, or whatever arrived
// within BatchTimeout.
type OnnxClient struct {
	session *ort.DynamicAdvancedSession
	queue   chan pendingEval
	cfg     OnnxClientConfig
	log     *slog.Logger

	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	totalBatches  atomic.Int64
	totalItems    atomic.Int64
	totalRunNanos atomic.Int64
	lastBatchSize atomic.Int64
}

var ortEnvOnce sync.Once
var ortEnvErr error

func NewOnnxClient(modelPath string, cfg OnnxClientConfig) (*OnnxClient, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if cfg.Planes <= 0 || cfg.BoardSize <= 0 {
		return nil, fmt.Errorf("inference: invalid model shape %d planes, board %d", cfg.Planes, cfg.BoardSize)
	}
	if err := cfg.PolicyOutput.ToProbs(nil); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := initRuntime(); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	// Many self-play workers share the process; keep each session to one
	// thread.
	if err := options.SetIntraOpNumThreads(1); err != nil {
		return nil, err
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return nil, err
	}

	if !cfg.DisableCUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err == nil {
			defer cudaOptions.Destroy()
			if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
				logger.Warn("cuda provider unavailable, running on cpu", "error", err)
			} else {
				logger.Info("cuda provider enabled")
			}
		} else {
			logger.Warn("cuda options unavailable, running on cpu", "error", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{"input"}, []string{"policy", "value"}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	client := &OnnxClient{
		session:  session,
		cfg:      cfg,
		log:      logger.With("model", filepath.Base(modelPath)),
		queue:    make(chan pendingEval, cfg.BatchSize*2),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	go client.collectBatches()

	return client, nil
}

// initRuntime locates the shared library and initializes the process-wide
// ORT environment once.
func initRuntime() error {
	ortEnvOnce.Do(func() {
		if runtime.GOOS == "linux" {
			extendLibraryPath()
			if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
				ort.SetSharedLibraryPath(p)
			} else if p := findLocalLibrary(); p != "" {
				ort.SetSharedLibraryPath(p)
			}
		}
		ortEnvErr = ort.InitializeEnvironment()
	})
	if ortEnvErr != nil {
		return fmt.Errorf("failed to init ort: %w", ortEnvErr)
	}
	return nil
}

func findLocalLibrary() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for _, name := range []string{"libonnxruntime.so", "libonnxruntime.so.1"} {
		abs := filepath.Join(cwd, name)
		if _, err := os.Stat(abs); err == nil {
			return abs
		}
	}
	return ""
}

// extendLibraryPath prepends the CUDA and cuDNN libraries of a project-local
// python virtualenv to LD_LIBRARY_PATH, where the training side installs them.
func extendLibraryPath() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dirs := []string{cwd}
	for _, pat := range []string{
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "nvidia", "*", "lib"),
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "torch", "lib"),
	} {
		matches, _ := filepath.Glob(pat)
		dirs = append(dirs, matches...)
	}

	existing := os.Getenv("LD_LIBRARY_PATH")
	have := map[string]bool{}
	for _, p := range strings.Split(existing, ":") {
		if p != "" {
			have[p] = true
		}
	}

	var add []string
	for _, d := range dirs {
		if have[d] {
			continue
		}
		if st, err := os.Stat(d); err == nil && st.IsDir() {
			add = append(add, d)
		}
	}
	if len(add) == 0 {
		return
	}
	val := strings.Join(add, ":")
	if existing != "" {
		val += ":" + existing
	}
	_ = os.Setenv("LD_LIBRARY_PATH", val)
}

// Close stops the batch loop, fails queued requests and releases the session.
func (c *OnnxClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.loopDone
		err = c.session.Destroy()
	})
	return err
}

func (c *OnnxClient) Stats() RuntimeStats {
	st := RuntimeStats{
		TotalBatches:  c.totalBatches.Load(),
		TotalItems:    c.totalItems.Load(),
		TotalRunNanos: c.totalRunNanos.Load(),
		LastBatchSize: c.lastBatchSize.Load(),
		QueueLen:      len(c.queue),
	}
	st.finish()
	return st
}

func (c *OnnxClient) EvaluatePlanes(x []float32) ([]float32, float32, error) {
	if len(x) != c.cfg.inputSize() {
		return nil, 0, fmt.Errorf("inference: input has %d values, model wants %d", len(x), c.cfg.inputSize())
	}
	// x is usually a pooled buffer; the batch outlives this call's caller.
	input := make([]float32, len(x))
	copy(input, x)

	reply := make(chan evalResult, 1)
	select {
	case c.queue <- pendingEval{input: input, reply: reply}:
	case <-c.done:
		return nil, 0, ErrClosed
	}

	select {
	case resp := <-reply:
		return resp.policy, resp.value, resp.err
	case <-c.loopDone:
		// The loop may have answered just before exiting.
		select {
		case resp := <-reply:
			return resp.policy, resp.value, resp.err
		default:
			return nil, 0, ErrClosed
		}
	}
}

func (c *OnnxClient) collectBatches() {
	defer close(c.loopDone)

	flat := make([]float32, 0, c.cfg.BatchSize*c.cfg.inputSize())
	requests := make([]pendingEval, 0, c.cfg.BatchSize)

	ticker := time.NewTicker(c.cfg.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(requests) == 0 {
			return
		}
		c.runBatch(requests, flat)
		requests = requests[:0]
		flat = flat[:0]
	}

	for {
		select {
		case req := <-c.queue:
			requests = append(requests, req)
			flat = append(flat, req.input...)
			if len(requests) >= c.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-c.done:
			c.failAll(requests, ErrClosed)
			for {
				select {
				case req := <-c.queue:
					req.reply <- evalResult{err: ErrClosed}
				default:
					return
				}
			}
		}
	}
}

func (c *OnnxClient) runBatch(requests []pendingEval, flat []float32) {
	start := time.Now()
	n := int64(len(requests))
	size := int64(c.cfg.BoardSize)
	policySize := c.cfg.policySize()

	inputTensor, err := ort.NewTensor(ort.NewShape(n, int64(c.cfg.Planes), size, size), flat)
	if err != nil {
		c.failAll(requests, err)
		return
	}
	defer inputTensor.Destroy()

	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, int64(policySize)))
	if err != nil {
		c.failAll(requests, err)
		return
	}
	defer policyTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, 1))
	if err != nil {
		c.failAll(requests, err)
		return
	}
	defer valueTensor.Destroy()

	if err := c.session.Run([]ort.Value{inputTensor}, []ort.Value{policyTensor, valueTensor}); err != nil {
		c.log.Error("batch failed", "batch", n, "error", err)
		c.failAll(requests, err)
		return
	}

	policyData := policyTensor.GetData()
	valueData := valueTensor.GetData()

	for i, req := range requests {
		policy := make([]float32, policySize)
		copy(policy, policyData[i*policySize:(i+1)*policySize])
		err := c.cfg.PolicyOutput.ToProbs(policy)
		req.reply <- evalResult{policy: policy, value: valueData[i], err: err}
	}

	c.totalBatches.Add(1)
	c.totalItems.Add(n)
	c.totalRunNanos.Add(time.Since(start).Nanoseconds())
	c.lastBatchSize.Store(n)
}

func (c *OnnxClient) failAll(requests []pendingEval, err error) {
	for _, req := range requests {
		req.reply <- evalResult{err: err}
	}
}
