// Command wsmessenger-loadtest drives N concurrent wsmessenger.Messenger
// sessions against a target and reports aggregate throughput and error
// counts. It is a stress harness for the engine, not part of the
// library's public contract.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cortexuvula/wsmessenger"
)

func main() {
	host := flag.String("host", "127.0.0.1", "Target host")
	port := flag.Int("port", 443, "Target port")
	target := flag.String("target", "/ws", "Target path")
	conns := flag.Int("conns", 10, "Number of concurrent sessions")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	msgInterval := flag.Duration("interval", 1*time.Second, "Message send interval per session")
	flag.Parse()

	fmt.Printf("wsmessenger load test\n")
	fmt.Printf("  Target:    %s:%d%s\n", *host, *port, *target)
	fmt.Printf("  Sessions:  %d\n", *conns)
	fmt.Printf("  Duration:  %s\n", *duration)
	fmt.Printf("  Interval:  %s\n", *msgInterval)
	fmt.Println()

	stop := make(chan struct{})
	time.AfterFunc(*duration, func() { close(stop) })

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		select {
		case <-stop:
		default:
			close(stop)
		}
	}()

	var (
		connected    atomic.Int64
		sent         atomic.Int64
		received     atomic.Int64
		criticalFail atomic.Int64
	)

	serverSettings := wsmessenger.ServerSettings{Host: *host, Port: uint16(*port), Target: *target}
	config := wsmessenger.DefaultConnectionConfig(serverSettings)

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *conns; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			cb := &loadCallback{
				connected: &connected,
				received:  &received,
				critical:  &criticalFail,
			}
			messenger, err := wsmessenger.New(cb, config, wsmessenger.WithSendBehavior(wsmessenger.SendAsync))
			if err != nil {
				criticalFail.Add(1)
				return
			}
			defer messenger.Close()

			if !messenger.Open() {
				return
			}

			msg := []byte(fmt.Sprintf(`{"type":"loadtest","conn":%d}`, id))
			ticker := time.NewTicker(*msgInterval)
			defer ticker.Stop()

			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					if messenger.Send(msg) {
						sent.Add(1)
					}
				}
			}
		}(i)
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				elapsed := time.Since(start).Round(time.Second)
				fmt.Printf("[%s] connected=%d sent=%d recv=%d critical_failures=%d\n",
					elapsed, connected.Load(), sent.Load(), received.Load(), criticalFail.Load())
			}
		}
	}()

	<-stop
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println()
	fmt.Println("Results:")
	fmt.Printf("  Duration:          %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Connected:         %d / %d\n", connected.Load(), *conns)
	fmt.Printf("  Messages sent:     %d\n", sent.Load())
	fmt.Printf("  Messages received: %d\n", received.Load())
	fmt.Printf("  Critical failures: %d\n", criticalFail.Load())
	if elapsed.Seconds() > 0 {
		fmt.Printf("  Send rate:         %.1f msg/s\n", float64(sent.Load())/elapsed.Seconds())
		fmt.Printf("  Recv rate:         %.1f msg/s\n", float64(received.Load())/elapsed.Seconds())
	}

	if criticalFail.Load() > 0 {
		log.Fatal("load test completed with critical failures")
	}
}

type loadCallback struct {
	connected *atomic.Int64
	received  *atomic.Int64
	critical  *atomic.Int64
}

func (c *loadCallback) OnMessageReceived([]byte) { c.received.Add(1) }
func (c *loadCallback) OnConnected()             { c.connected.Add(1) }
func (c *loadCallback) OnDisconnected(wsmessenger.ErrorDetails) {}
func (c *loadCallback) SignalCriticalFailure()   { c.critical.Add(1) }
