// Package mq — обмен сообщениями через RabbitMQ.
//
// Control plane общается с execution backend'ами асинхронно:
//   - runs.submitted — API сообщает daemon'у о новом run
//   - runs.launch — координатор передаёт run агенту на исполнение
//   - runs.terminate.<agent> — команда остановки; рассылается через
//     fanout в персональную очередь каждого агента
//   - runs.completed — агент сообщает финальный статус run
//
// RabbitMQ опционален: без него координатор работает в режиме
// polling по БД, а запуск возможен только локальным backend'ом.
package mq
