// `compio` turns readiness-based kernel I/O into *completions*: you hand it
// an `AsyncOperation` carrying a `CompletionHandler`, and the handler fires
// exactly once when the work succeeded, failed, or was canceled.
//
// ## How it works
//
// Everything starts with a `Proactor`. `Create` one, `Start` it, and a
// single dispatch goroutine begins waiting on an `EventQueue`, a thin
// wrapper over the platform demultiplexer (epoll on Linux, kqueue on
// Darwin) plus a wake-up device. `Initiate` registers an operation for one
// readiness direction of its `Socket`; when the kernel reports that
// direction ready, the dispatch goroutine performs the actual syscall and
// invokes your handler with the outcome.
//
// Handlers conventionally end by initiating the next operation, so a
// connection becomes a chain of completions instead of a blocked
// goroutine. The `Conn`/`Server` layer packages that pattern: `Dial` or
// `NewServer` with a `ConnHandler` and you get a continuous read cycle and
// an ordered write pump for free.
//
// ## Design Principles
//
// > `compio` is **explicit**, **single-dispatcher**, and **minimalist**.
//
// ### Explicit
//
// Nothing retries silently. A partial write completes with exactly what
// the kernel took, a failed operation completes with the OS error, a
// canceled operation completes with its cancellation cause. APIs MUST NOT
// model infallible I/O: this doesn't exist, and handlers MUST be ready to
// receive failures on the same path as successes.
//
// ### Single dispatcher
//
// One goroutine per `Proactor` performs the syscalls and runs the
// handlers, so completions for a descriptor are naturally ordered and
// handlers never need locking against each other. The flip side is a
// contract: handlers MUST NOT block, or they stall every completion
// queued behind them.
//
// ### Minimalist
//
// `compio` is a foundational I/O library, not a network framework. It
// defines no wire format, spawns no goroutine you didn't ask for, and
// keeps its dependencies enumerable:
//
// * [`golang.org/x/sys`][dep-sys], for the raw epoll/kqueue and socket calls.
// * [`hashicorp/go-metrics`][dep-metrics], to let you choose how to collect telemetry.
// * [`eapache/queue`][dep-queue], backing the deferred-completion and send queues.
//
// [dep-sys]: https://pkg.go.dev/golang.org/x/sys/unix
// [dep-metrics]: https://pkg.go.dev/github.com/hashicorp/go-metrics
// [dep-queue]: https://pkg.go.dev/github.com/eapache/queue
package compio
