package rag_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"quizzy-backend/rag"
)

func doc(id string) rag.Document {
	return rag.Document{ID: id, Text: id, Metadata: rag.Metadata{InfractionName: id}}
}

func ids(results []rag.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Document.ID
	}
	return out
}

var _ = Describe("Index", func() {
	var (
		ctx      context.Context
		embedder *fakeEmbedder
		index    *rag.Index
	)

	BeforeEach(func() {
		ctx = context.Background()
		embedder = newFakeEmbedder(map[string][]float32{
			"docA": {1, 0},
			"docB": {0, 1},
		})
		index = rag.NewIndex(embedder)
	})

	Describe("before the first build", func() {
		It("is not initialized", func() {
			Expect(index.IsInitialized()).To(BeFalse())
			Expect(index.Snapshot()).To(BeNil())
		})

		It("refuses to search", func() {
			_, err := index.Search([]float32{1, 0}, 1)
			Expect(errors.Is(err, rag.ErrNotInitialized)).To(BeTrue())
		})
	})

	Describe("two-document corpus", func() {
		BeforeEach(func() {
			_, err := index.Build(ctx, []rag.Document{doc("docA"), doc("docB")})
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns docA first with the expected score", func() {
			results, err := index.Search([]float32{0.9, 0.1}, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(results)).To(Equal([]string{"docA"}))
			Expect(results[0].Score).To(BeNumerically("~", 0.994, 1e-3))
		})

		It("orders both documents with k=2", func() {
			results, err := index.Search([]float32{0.9, 0.1}, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(results)).To(Equal([]string{"docA", "docB"}))
		})

		It("clamps k to the generation size", func() {
			results, err := index.Search([]float32{0.9, 0.1}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
		})

		It("returns nothing for k <= 0", func() {
			results, err := index.Search([]float32{0.9, 0.1}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
		})

		It("scores a malformed query as 0 instead of failing", func() {
			results, err := index.Search([]float32{1, 0, 0}, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(results[0].Score).To(Equal(0.0))
			Expect(results[1].Score).To(Equal(0.0))
		})

		It("exposes a consistent generation", func() {
			gen := index.Snapshot()
			Expect(gen.Len()).To(Equal(2))
			Expect(gen.Dimension()).To(Equal(2))
			Expect(gen.BuiltAt().IsZero()).To(BeFalse())
			Expect(gen.Documents()).To(HaveLen(2))
		})
	})

	It("breaks ties by insertion order", func() {
		for _, id := range []string{"t1", "t2", "t3", "t4"} {
			embedder.set(id, []float32{1, 1})
		}
		embedder.set("best", []float32{1, 0})
		_, err := index.Build(ctx, []rag.Document{doc("t1"), doc("t2"), doc("best"), doc("t3"), doc("t4")})
		Expect(err).NotTo(HaveOccurred())

		results, err := index.Search([]float32{1, 0}, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(results)).To(Equal([]string{"best", "t1", "t2", "t3", "t4"}))
		for i := 1; i < len(results); i++ {
			Expect(results[i].Score).To(BeNumerically("<=", results[i-1].Score))
		}
	})

	It("treats an empty corpus as initialized and empty", func() {
		gen, err := index.Build(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(gen.Len()).To(Equal(0))
		Expect(index.IsInitialized()).To(BeTrue())

		results, err := index.Search([]float32{0.9, 0.1}, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(BeEmpty())
		Expect(embedder.calls.Load()).To(BeZero())
	})

	It("is idempotent for an unchanged corpus", func() {
		docs := []rag.Document{doc("docA"), doc("docB")}
		first, err := index.Build(ctx, docs)
		Expect(err).NotTo(HaveOccurred())
		second, err := index.Build(ctx, docs)
		Expect(err).NotTo(HaveOccurred())

		Expect(second).NotTo(BeIdenticalTo(first))
		Expect(second.Documents()).To(Equal(first.Documents()))
		Expect(index.Snapshot()).To(BeIdenticalTo(second))
	})

	It("keeps the previous generation when a build fails", func() {
		_, err := index.Build(ctx, []rag.Document{doc("docA")})
		Expect(err).NotTo(HaveOccurred())
		before := index.Snapshot()

		embedder.failOn["docB"] = errors.New("boom")
		_, err = index.Build(ctx, []rag.Document{doc("docA"), doc("docB")})
		Expect(err).To(MatchError(ContainSubstring("boom")))
		Expect(index.Snapshot()).To(BeIdenticalTo(before))
	})

	It("rejects vectors of different lengths", func() {
		embedder.set("wide", []float32{1, 0, 0})
		_, err := index.Build(ctx, []rag.Document{doc("docA"), doc("wide")})
		Expect(errors.Is(err, rag.ErrDimensionMismatch)).To(BeTrue())
		Expect(index.IsInitialized()).To(BeFalse())
	})

	It("stops when the context is cancelled", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := index.Build(cancelled, []rag.Document{doc("docA")})
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
	})

	It("serves the old generation while a rebuild is in flight", func() {
		_, err := index.Build(ctx, []rag.Document{doc("docA"), doc("docB")})
		Expect(err).NotTo(HaveOccurred())

		embedder.gate = make(chan struct{})
		done := make(chan error, 1)
		go func() {
			defer GinkgoRecover()
			_, err := index.Build(ctx, []rag.Document{doc("docA"), doc("docB")})
			done <- err
		}()

		Eventually(embedder.calls.Load).Should(BeNumerically(">=", 3))
		results, err := index.Search([]float32{0.9, 0.1}, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(results)).To(Equal([]string{"docA", "docB"}))

		close(embedder.gate)
		Eventually(done).Should(Receive(BeNil()))
	})

	It("never exposes a generation with mismatched lengths under concurrent rebuilds", func() {
		var docs []rag.Document
		for i := 0; i < 20; i++ {
			id := fmt.Sprintf("d%02d", i)
			embedder.set(id, []float32{float32(i + 1), 1})
			docs = append(docs, doc(id))
		}

		var wg sync.WaitGroup
		for b := 0; b < 4; b++ {
			wg.Add(1)
			go func(n int) {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := index.Build(ctx, docs[:5*(n+1)])
				Expect(err).NotTo(HaveOccurred())
			}(b)
		}
		for r := 0; r < 50; r++ {
			if gen := index.Snapshot(); gen != nil {
				Expect(gen.Search([]float32{1, 1}, 100)).To(HaveLen(gen.Len()))
			}
		}
		wg.Wait()

		Expect(index.Snapshot().Len()).To(BeElementOf(5, 10, 15, 20))
	})
})
