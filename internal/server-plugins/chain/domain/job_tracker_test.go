package domain_test

import (
	"context"
	"errors"
	"time"

	"github.com/alex-galey/mission-mcp/internal/server-plugins/chain/domain"
	"github.com/alex-galey/mission-mcp/internal/shared/binding"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("JobTracker", func() {
	var tracker *domain.JobTracker

	BeforeEach(func() {
		tracker = domain.NewJobTracker(time.Minute, time.Minute)
	})

	AfterEach(func() {
		Expect(tracker.Shutdown(context.Background())).To(Succeed())
	})

	Describe("Track", func() {
		It("should track a running job with a copy of its state", func() {
			state := binding.NewState(binding.Asset{Name: "topic", Value: "Go"})
			Expect(tracker.Track("job-1", "chain", state)).To(Succeed())

			state["topic"] = binding.Asset{Name: "topic", Value: "changed"}

			job, err := tracker.Get("job-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Status).To(Equal(domain.JobStatusRunning))
			Expect(job.ChainID).To(Equal("chain"))
			Expect(job.State).To(HaveLen(1))
			Expect(job.State[0].Value).To(Equal("Go"))
			Expect(tracker.IsRunning("job-1")).To(BeTrue())
		})

		It("should reject duplicate and empty ids", func() {
			Expect(tracker.Track("job-1", "chain", nil)).To(Succeed())

			err := tracker.Track("job-1", "chain", nil)
			Expect(errors.Is(err, domain.ErrJobExists)).To(BeTrue())
			Expect(tracker.Track("", "chain", nil)).NotTo(Succeed())
			Expect(tracker.Count()).To(Equal(1))
		})
	})

	Describe("Get", func() {
		It("should return not found for unknown jobs", func() {
			_, err := tracker.Get("ghost")
			Expect(errors.Is(err, domain.ErrJobNotFound)).To(BeTrue())
		})

		It("should hand out snapshots that do not alias tracked state", func() {
			_ = tracker.Track("job-1", "chain", binding.NewState(binding.Asset{Name: "doc", Value: map[string]any{"a": 1}}))

			job, _ := tracker.Get("job-1")
			job.State[0].Value.(map[string]any)["a"] = 2

			again, _ := tracker.Get("job-1")
			Expect(again.State[0].Value).To(Equal(map[string]any{"a": 1}))
		})
	})

	Describe("UpdateProgress", func() {
		It("should never decrease progress", func() {
			_ = tracker.Track("job-1", "chain", nil)

			Expect(tracker.UpdateProgress("job-1", 1, "Phase b", 2, 50)).To(Succeed())
			Expect(tracker.UpdateProgress("job-1", 1, "Phase b", 2, 30)).To(Succeed())

			job, _ := tracker.Get("job-1")
			Expect(job.Progress).To(Equal(50.0))
			Expect(job.PhaseIndex).To(Equal(1))
			Expect(job.Phase).To(Equal("Phase b"))
		})

		It("should fail for unknown jobs", func() {
			Expect(tracker.UpdateProgress("ghost", 0, "", 0, 10)).NotTo(Succeed())
		})
	})

	Describe("Finish and Cancel", func() {
		BeforeEach(func() {
			_ = tracker.Track("job-1", "chain", nil)
		})

		It("should cancel a running job once", func() {
			Expect(tracker.Cancel("job-1")).To(BeTrue())
			Expect(tracker.Cancel("job-1")).To(BeFalse())
			Expect(tracker.IsRunning("job-1")).To(BeFalse())

			job, _ := tracker.Get("job-1")
			Expect(job.Status).To(Equal(domain.JobStatusCancelled))
			Expect(job.Status.IsTerminal()).To(BeTrue())
			Expect(job.FinishedAt).NotTo(BeNil())
		})

		It("should not complete a job that was cancelled", func() {
			Expect(tracker.Cancel("job-1")).To(BeTrue())
			Expect(tracker.Finish("job-1", domain.JobStatusCompleted, "", "")).To(BeFalse())

			job, _ := tracker.Get("job-1")
			Expect(job.Status).To(Equal(domain.JobStatusCancelled))
		})

		It("should set progress to 100 on completion", func() {
			Expect(tracker.Finish("job-1", domain.JobStatusCompleted, "", "")).To(BeTrue())

			job, _ := tracker.Get("job-1")
			Expect(job.Progress).To(Equal(100.0))
		})

		It("should record the error code of a failure", func() {
			Expect(tracker.Finish("job-1", domain.JobStatusFailed, binding.CodeMalformedResult, "bad output")).To(BeTrue())

			job, _ := tracker.Get("job-1")
			Expect(job.ErrorCode).To(Equal(binding.CodeMalformedResult))
			Expect(job.Error).To(Equal("bad output"))
		})
	})

	Describe("Events", func() {
		It("should return events after a sequence number", func() {
			_ = tracker.Track("job-1", "chain", nil)
			for i := 1; i <= 3; i++ {
				Expect(tracker.AppendEvent("job-1", domain.Event{Type: domain.EventStatusUpdate, Sequence: i})).To(Succeed())
			}

			evs, err := tracker.Events("job-1", 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(evs).To(HaveLen(2))
			Expect(evs[0].Sequence).To(Equal(2))

			_, err = tracker.Events("ghost", 0)
			Expect(errors.Is(err, domain.ErrJobNotFound)).To(BeTrue())
		})
	})

	Describe("Cleanup", func() {
		It("should evict finished jobs once retention has passed", func() {
			tracker = domain.NewJobTracker(time.Millisecond, time.Hour)
			_ = tracker.Track("done", "chain", nil)
			_ = tracker.Track("running", "chain", nil)
			tracker.Finish("done", domain.JobStatusCompleted, "", "")

			Eventually(func() int {
				tracker.Cleanup()
				return tracker.Count()
			}).Should(Equal(1))

			_, err := tracker.Get("running")
			Expect(err).NotTo(HaveOccurred())
		})

		It("should run the cleanup loop after Start", func() {
			tracker = domain.NewJobTracker(time.Millisecond, 5*time.Millisecond)
			_ = tracker.Track("done", "chain", nil)
			tracker.Finish("done", domain.JobStatusFailed, "", "boom")

			tracker.Start()
			Eventually(tracker.Count).Should(Equal(0))
		})
	})

	It("should list jobs oldest first", func() {
		_ = tracker.Track("first", "chain", nil)
		time.Sleep(time.Millisecond)
		_ = tracker.Track("second", "chain", nil)

		jobs := tracker.List()
		Expect(jobs).To(HaveLen(2))
		Expect(jobs[0].ID).To(Equal("first"))
	})
})

var _ = Describe("EventStream", func() {
	It("delivers events in publish order", func() {
		stream := domain.NewEventStream("s", 4)
		for i := 1; i <= 3; i++ {
			Expect(stream.Publish(context.Background(), domain.Event{Sequence: i})).To(Succeed())
		}
		stream.Close()

		var seqs []int
		for e := range stream.Events() {
			seqs = append(seqs, e.Sequence)
		}
		Expect(seqs).To(Equal([]int{1, 2, 3}))
	})

	It("blocks while full instead of dropping", func() {
		stream := domain.NewEventStream("s", 1)
		Expect(stream.Publish(context.Background(), domain.Event{Sequence: 1})).To(Succeed())

		published := make(chan error, 1)
		go func() {
			published <- stream.Publish(context.Background(), domain.Event{Sequence: 2})
		}()
		Consistently(published, 50*time.Millisecond).ShouldNot(Receive())

		Expect((<-stream.Events()).Sequence).To(Equal(1))
		Eventually(published).Should(Receive(BeNil()))
		Expect((<-stream.Events()).Sequence).To(Equal(2))
	})

	It("gives up when the context is done", func() {
		stream := domain.NewEventStream("s", 0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := stream.Publish(ctx, domain.Event{Sequence: 1})
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
	})

	It("flattens events for notifications", func() {
		e := domain.Event{
			Type:      domain.EventError,
			SessionID: "s",
			Sequence:  3,
			Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			Status:    domain.EventStatus{Phase: "Phase a", Progress: 25, CurrentSteps: []string{}, Error: "boom"},
		}

		m := e.AsMap()
		Expect(m).To(HaveKeyWithValue("type", "ERROR"))
		Expect(m).To(HaveKeyWithValue("sessionId", "s"))
		Expect(m).To(HaveKeyWithValue("sequence", 3))
		status := m["status"].(map[string]any)
		Expect(status).To(HaveKeyWithValue("error", "boom"))
		Expect(status).NotTo(HaveKey("finalAnswer"))
	})
})
