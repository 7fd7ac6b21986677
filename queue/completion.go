package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/openhabits/flexical/cache"
	"github.com/openhabits/flexical/completion"
	"github.com/openhabits/flexical/storage"
)

// globalCount is a package-level variable used in the round robin algorithm to assign producers to each message.
var globalCount int

// CompletionProducerFactory is a struct for creating new CompletionProducer instances
type CompletionProducerFactory struct{}

// CompletionConsumerFactory creates CompletionConsumer instances. It carries
// the cache used for processed-event markers and evaluated flags, plus the
// storage backend the aggregator reads from.
type CompletionConsumerFactory struct {
	Cache cache.CacheInterface
	Store storage.StorageInterface
}

// CompletionProducer manages the connection, channel, and queue of the AMQP message producer for completion events
type CompletionProducer struct {
	conn    *amqp.Connection // the connection to the AMQP broker
	channel *amqp.Channel    // the channel used for publishing messages
	queue   *amqp.Queue      // the queue to which messages will be sent
}

// CompletionConsumer consumes completion re-evaluation events: it recomputes
// a user's completion state against the instance's thresholds and writes the
// resulting flag to the cache.
type CompletionConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   *amqp.Queue
	cache   cache.CacheInterface
	store   storage.StorageInterface
}

// CompletionMessage asks a consumer to re-evaluate one user's completion
// state inside one instance. Published after every entry upsert.
type CompletionMessage struct {
	Id         string `json:"id"`          // unique event id, used for idempotent consumption
	InstanceID string `json:"instance_id"` // hex ObjectID of the activity instance
	UserID     string `json:"user_id"`     // hex ObjectID of the user
}

// NewCompletionMessage builds a completion event with a fresh unique id.
func NewCompletionMessage(instanceID, userID primitive.ObjectID) *CompletionMessage {
	return &CompletionMessage{
		Id:         uuid.NewString(),
		InstanceID: instanceID.Hex(),
		UserID:     userID.Hex(),
	}
}

// CreateProducer instantiates a new CompletionProducer with the given
// connection, channel, and queue. The error is always nil in the current
// implementation.
func (f *CompletionProducerFactory) CreateProducer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Producer, error) {
	return &CompletionProducer{
		conn:    conn,
		channel: ch,
		queue:   queue,
	}, nil
}

// CreateConsumer instantiates a new CompletionConsumer with the given
// connection, channel, and queue, wired to the factory's cache and store.
func (f *CompletionConsumerFactory) CreateConsumer(conn *amqp.Connection, ch *amqp.Channel, queue *amqp.Queue) (Consumer, error) {
	return &CompletionConsumer{
		conn:    conn,
		channel: ch,
		queue:   queue,
		cache:   f.Cache,
		store:   f.Store,
	}, nil
}

// Publish publishes the given message body to the queue.
// Returns an error if there was a problem with publishing the message.
func (cp *CompletionProducer) Publish(body []byte) error {
	err := cp.channel.Publish(
		"",            // exchange
		cp.queue.Name, // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}

	return nil
}

// Consume sets up a consumer on the queue and launches a goroutine that
// continuously reads from it. Each event is unmarshalled, checked against the
// cache's processed markers, and either evaluated or discarded. Transient
// failures are nacked back onto the queue.
func (cc *CompletionConsumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	msgs, err := cc.channel.Consume(
		cc.queue.Name,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, err
	}

	// Deploy the consumer worker to read messages from the queue.
	go func() {
		for {
			select {
			case d, ok := <-msgs:

				if !ok {
					return
				}

				message := &CompletionMessage{}
				if err := json.Unmarshal(d.Body, message); err != nil {
					log.Printf("failed to unmarshal completion message: %v", err)
					d.Nack(false, false) // malformed, drop rather than requeue.
					continue
				}

				// Fetch processed state from cache
				processed, err := cc.cache.Get(ctx, "completion_evt_"+message.Id)
				if err != nil {
					// Ignore cache misses, handle other errors
					if err.Error() != "key does not exist" {
						log.Printf("error checking cache: %v", err)
						d.Nack(false, true) // requeue the message in case of transient error.
						continue
					}
				}

				if processed != nil {
					d.Ack(false)
					continue
				}

				if err := cc.evaluate(ctx, message); err != nil {
					log.Printf("failed to evaluate completion: %v", err)
					d.Nack(false, true) // requeue the message in case of transient error.
				} else {
					d.Ack(false)
					if err := cc.cache.Set(ctx, "completion_evt_"+message.Id, true); err != nil {
						log.Printf("failed to set key in cache: %v", err)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return msgs, nil
}

// evaluate recomputes the user's completion state against the instance's
// stored thresholds and caches the resulting flag.
func (cc *CompletionConsumer) evaluate(ctx context.Context, message *CompletionMessage) error {
	instanceID, err := primitive.ObjectIDFromHex(message.InstanceID)
	if err != nil {
		return fmt.Errorf("bad instance id %q: %w", message.InstanceID, err)
	}
	userID, err := primitive.ObjectIDFromHex(message.UserID)
	if err != nil {
		return fmt.Errorf("bad user id %q: %w", message.UserID, err)
	}

	pref, err := cc.store.FindPreference(ctx, instanceID)
	if err != nil {
		return err
	}

	comb := completion.CombinatorAll
	if pref != nil && pref.Combinator == string(completion.CombinatorAny) {
		comb = completion.CombinatorAny
	}

	aggregator := completion.NewAggregator(cc.store)
	flag, err := aggregator.EvaluateCompletion(ctx, completion.ThresholdsFromPreference(pref), instanceID, userID, comb)
	if err != nil {
		return err
	}

	return cc.cache.Set(ctx, cache.CompletionFlagKey(message.InstanceID, message.UserID), flag)
}

// BuildCompletionQueue initializes the queue for completion re-evaluation
// events, creating the requested numbers of producers and consumers.
func BuildCompletionQueue(rabbitMQURL string, numProducers, numConsumers int, c cache.CacheInterface, store storage.StorageInterface) *Queue {

	// Producer factories
	prodFactories := make([]ProducerFactory, numProducers)
	for i := 0; i < numProducers; i++ {
		prodFactories[i] = &CompletionProducerFactory{}
	}

	// Consumer factories
	consFactories := make([]ConsumerFactory, numConsumers)
	for i := 0; i < numConsumers; i++ {
		consFactories[i] = &CompletionConsumerFactory{Cache: c, Store: store}
	}

	return InitQueue(rabbitMQURL, "completionQueue", prodFactories, consFactories)
}

// PublishCompletion serializes a completion event and publishes it through
// one of the queue's producers, selected round-robin.
func PublishCompletion(msg *CompletionMessage, q *Queue) error {

	body, err := json.Marshal(msg)
	if err != nil {
		return errors.New("failed to marshal completion message: " + err.Error())
	}

	producerCount := len(q.Producers)
	if producerCount == 0 {
		return errors.New("no producers available")
	}

	producer := q.Producers[globalCount%producerCount]
	globalCount++

	if err := producer.Publish(body); err != nil {
		return errors.New("failed to publish completion message: " + err.Error())
	}

	return nil
}
