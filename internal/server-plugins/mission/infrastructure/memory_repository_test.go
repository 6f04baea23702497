package infrastructure_test

import (
	"context"
	"errors"

	"github.com/alex-galey/mission-mcp/internal/server-plugins/mission/domain"
	"github.com/alex-galey/mission-mcp/internal/server-plugins/mission/infrastructure"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("MemoryMissionRepository", func() {
	var (
		repo *infrastructure.MemoryMissionRepository
		ctx  context.Context
	)

	BeforeEach(func() {
		repo = infrastructure.NewMemoryMissionRepository()
		ctx = context.Background()
	})

	It("should save, find and delete missions", func() {
		m, err := domain.NewMission(domain.MissionSpec{Name: "research"})
		Expect(err).NotTo(HaveOccurred())

		Expect(repo.Save(ctx, m)).To(Succeed())
		found, err := repo.FindByID(ctx, m.ID())
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeIdenticalTo(m))

		all, err := repo.FindAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(1))

		Expect(repo.Delete(ctx, m.ID())).To(Succeed())
		_, err = repo.FindByID(ctx, m.ID())
		Expect(errors.Is(err, domain.ErrMissionNotFound)).To(BeTrue())
	})

	It("should report missing missions on delete", func() {
		Expect(errors.Is(repo.Delete(ctx, "nope"), domain.ErrMissionNotFound)).To(BeTrue())
	})
})
