package archive

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("MS-DOS timestamps", func() {
	It("Should round trip representable times at two second precision", func() {
		t := time.Date(2021, 3, 4, 5, 6, 9, 0, time.UTC)
		Expect(msDosTimeToTime(timeToMsDos(t))).To(Equal(time.Date(2021, 3, 4, 5, 6, 8, 0, time.UTC)))
	})

	It("Should clamp times before 1980", func() {
		Expect(msDosTimeToTime(timeToMsDos(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)))).
			To(Equal(time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)))
	})

	It("Should clamp times after 2107", func() {
		Expect(msDosTimeToTime(timeToMsDos(time.Date(2200, 6, 1, 12, 0, 0, 0, time.UTC)))).
			To(Equal(time.Date(2107, 12, 31, 23, 59, 58, 0, time.UTC)))
	})

	It("Should record times in UTC", func() {
		zone := time.FixedZone("east", 5*60*60)
		local := time.Date(2021, 3, 4, 10, 6, 8, 0, zone)
		Expect(msDosTimeToTime(timeToMsDos(local))).To(Equal(time.Date(2021, 3, 4, 5, 6, 8, 0, time.UTC)))
	})
})
