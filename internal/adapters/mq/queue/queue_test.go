package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryQueue(t *testing.T) {
	Convey("Given a queue with capacity 2", t, func() {
		q := NewInMemoryQueue[int](WithCapacity(2))
		ctx := context.Background()

		Convey("When items are enqueued", func() {
			So(q.Enqueue(ctx, 1), ShouldBeTrue)
			So(q.Enqueue(ctx, 2), ShouldBeTrue)

			Convey("Then they are dequeued in order", func() {
				So(q.Len(), ShouldEqual, 2)
				ch := q.Dequeue(ctx)
				So(<-ch, ShouldEqual, 1)
				So(<-ch, ShouldEqual, 2)
				So(q.Close(), ShouldBeNil)
			})

			Convey("Then TryEnqueue fails while full", func() {
				So(q.TryEnqueue(3), ShouldBeFalse)
			})

			Convey("Then a blocked Enqueue honours its context", func() {
				tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
				defer cancel()
				So(q.Enqueue(tctx, 3), ShouldBeFalse)
			})

			Convey("Then Close releases a blocked producer", func() {
				released := make(chan bool, 1)
				go func() { released <- q.Enqueue(ctx, 3) }()
				time.Sleep(10 * time.Millisecond)
				So(q.Close(), ShouldBeNil)

				select {
				case ok := <-released:
					So(ok, ShouldBeFalse)
				case <-time.After(time.Second):
					So("producer still blocked", ShouldBeEmpty)
				}
			})
		})

		Convey("When closed", func() {
			ch := q.Dequeue(ctx)
			So(q.Close(), ShouldBeNil)
			So(q.Close(), ShouldBeNil)

			Convey("Then enqueue is rejected and the consumer channel closes", func() {
				So(q.IsClosed(), ShouldBeTrue)
				So(q.Enqueue(ctx, 1), ShouldBeFalse)
				So(q.TryEnqueue(1), ShouldBeFalse)
				_, open := <-ch
				So(open, ShouldBeFalse)
			})
		})
	})

	Convey("Given concurrent producers", t, func() {
		q := NewInMemoryQueue[int](WithCapacity(8))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		ch := q.Dequeue(ctx)

		var wg sync.WaitGroup
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					q.Enqueue(ctx, i)
				}
			}()
		}

		received := 0
		for received < 100 {
			<-ch
			received++
		}
		wg.Wait()

		Convey("Then every item is delivered once", func() {
			So(received, ShouldEqual, 100)
			So(q.Len(), ShouldEqual, 0)
		})
	})
}
